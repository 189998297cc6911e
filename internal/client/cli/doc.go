// Package cli implements the sharedrop command line: upload files into a
// share, inspect a share and download from it.
package cli
