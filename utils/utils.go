package utils

import (
	"log"
	"strings"
)

// AddToLogMessage appends one entry to a per-request log.
func AddToLogMessage(logMessagesBuilder *strings.Builder, strToAdd string) {
	logMessagesBuilder.Grow(len(strToAdd) + 2)
	logMessagesBuilder.WriteString(strToAdd)
	logMessagesBuilder.WriteString(";\n")
}

// StartRequestLog opens a per-request log headed by name. The returned func
// writes the whole log in one line group; defer it.
func StartRequestLog(name string) (*strings.Builder, func()) {
	var logMessageBuilder strings.Builder
	AddToLogMessage(&logMessageBuilder, name)
	return &logMessageBuilder, func() {
		log.Print(strings.TrimSuffix(logMessageBuilder.String(), "\n"))
	}
}
