// Package report renders runner lifecycle callbacks into output formats:
// human CLI text, a JSON results document, GitHub workflow annotations,
// and a JSON dump of the parsed graph. Reporters are selected by name
// through a registry; the runner itself knows nothing about formatting.
package report
