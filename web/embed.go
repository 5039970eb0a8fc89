package webassets

import "embed"

// FS contains the embedded login, dashboard and password reset pages.
//
//go:embed login.html dashboard.html resetpassword.html
var FS embed.FS
