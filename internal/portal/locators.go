package portal

import "time"

// DefaultPortalURL is the West Discom consumer services home page.
const DefaultPortalURL = "https://mpwzservices.mpwin.co.in/westdiscom/home"

const latestBillPhrase = "View Latest Month Bill"

var (
	IdentifierInput = Locator{
		Name:  "ivrs input",
		Query: `input[formcontrolname='ivrs']`,
		By:    ByCSS,
	}
	SubmitButton = Locator{
		Name:  "view & pay submit",
		Query: `//input[@type='submit' and contains(@value, 'View & Pay')]`,
		By:    ByXPath,
	}

	// LatestBillControls are alternative renderings of the same control, the portal does not
	// settle on one element type for it.
	LatestBillControls = []Locator{
		{
			Name:  "latest bill text",
			Query: `//*[contains(text(), '` + latestBillPhrase + `')]`,
			By:    ByXPath,
		},
		{
			Name:  "latest bill input",
			Query: `//input[contains(@value, '` + latestBillPhrase + `')]`,
			By:    ByXPath,
		},
		{
			Name:  "latest bill button",
			Query: `//button[contains(., '` + latestBillPhrase + `')]`,
			By:    ByXPath,
		},
	}
)

// one time unit is one second
const (
	DefaultElementTimeout = 20 * time.Second
	DefaultScrollSettle   = 1 * time.Second
	DefaultWindowSettle   = 2 * time.Second
	DefaultPollInterval   = 1 * time.Second
	DefaultPollCeiling    = 30 * time.Second

	DefaultWindowWidth  = 1920
	DefaultWindowHeight = 1080

	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)
