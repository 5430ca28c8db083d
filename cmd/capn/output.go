package main

import (
	"fmt"
	"io"
	"strings"

	orchestrators "github.com/ochairo/capn/internal/domain-orchestrators"
)

const separator = "********************************************************************************"

// Banners
const (
	welcomeBanner  = "Ahoy, maties! Welcome to Capn Githook"
	acceptedBanner = "Aye, me hearties! Welcome aboard!"
	rejectedBanner = "Your commits are scallywags!"
	errorBanner    = "Something went wrong!"
)

// printHeader writes text between separator lines unless quiet
func printHeader(w io.Writer, text string, quiet bool) {
	if quiet {
		return
	}
	_, _ = fmt.Fprintf(w, "\n%[1]s\n%[2]s\n%[1]s\n\n", separator, text)
}

// describeReport explains a rejection: the first failure, then every
// failing update when more than one ref was rejected
func describeReport(report *orchestrators.HookReport) string {
	var b strings.Builder
	b.WriteString(report.Result.String())
	if len(report.Failures) > 1 {
		b.WriteString("\n\nRejected updates:")
		for _, f := range report.Failures {
			fmt.Fprintf(&b, "\n  %s: %s", f.Update.RefName(), f.Result)
		}
	}
	return b.String()
}
