// Package installer builds Inno Setup installers, signs them with a KMS-held code-signing key
// and publishes the update descriptor (current-version JSON plus a signed JWT) that installed
// clients poll.
package installer
