// Package fileops implements the file plans of a build: copy/delete plans applied to the embed
// tree, downloads, the gzip pass, zip distributions and their extraction, and the small
// generators that turn secrets and data files into sources.
package fileops
