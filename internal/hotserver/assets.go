package hotserver

import _ "embed"

// clientTemplate is the browser-side blob distributed with every hot-mode
// output file (§4.G "Client / proxy blobs"), embedded the same way the
// teacher recommends bundling static assets (see wave.Config's
// DistStaticFS doc comment) rather than read from disk at runtime.
//
//go:embed client.js
var clientTemplate string

// ClientTemplate returns the unsubstituted browser-side client blob; callers
// pass it to inject.ClientCode/inject.ProxyFile.
func ClientTemplate() string {
	return clientTemplate
}
