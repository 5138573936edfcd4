// Package api exposes the adapter manager over a small JSON REST surface.
package api
