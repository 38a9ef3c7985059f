package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// GenerateMessageID builds an RFC 5322 Message-ID; metadata (e.g. a property id) is folded in as a short hash.
func GenerateMessageID(domain, metadata string) string {
	if domain == "" {
		domain = "localhost"
	}

	var hashComponent string
	if metadata != "" {
		hash := sha256.Sum256([]byte(metadata))
		hashComponent = fmt.Sprintf(".%x", hash[:4])
	}

	localPart := fmt.Sprintf("%d.%s%s", Now().UnixMicro(), GenerateNanoID(12), hashComponent)
	return fmt.Sprintf("<%s@%s>", localPart, domain)
}

func NormalizeMessageID(messageID string) string {
	messageID = strings.TrimSpace(messageID)
	messageID = strings.TrimPrefix(messageID, "<")
	return strings.TrimSuffix(messageID, ">")
}
