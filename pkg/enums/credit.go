package enums

// CreditSource identifies where a consumed credit came from.
type CreditSource string

const (
	CreditSourcePackage      CreditSource = "package"
	CreditSourceSubscription CreditSource = "subscription"
)

var creditSources = []CreditSource{CreditSourcePackage, CreditSourceSubscription}

func (c CreditSource) IsValid() bool {
	return known(creditSources, c)
}

// CreditPackageKind distinguishes paid bundles from the free preview bundle.
// Preview credits never settle a full song.
type CreditPackageKind string

const (
	CreditPackageKindStandard CreditPackageKind = "standard"
	CreditPackageKindPreview  CreditPackageKind = "preview"
)
