// Package versioning resolves the product version from the nearest git tag and stamps it into
// the source tree (version.json, version.py and windows resource scripts).
package versioning
