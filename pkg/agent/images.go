package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// CaseImageSource resolves a case identifier to injectable image content.
// The run loop does not care whether the bytes come from a local cache or a
// live fetch; unavailable images arrive as placeholder text blocks.
type CaseImageSource interface {
	// CaseImages returns ready-to-embed content blocks for the case,
	// alternating caption and image after a leading header block. An empty
	// slice means the case has no images and nothing should be injected.
	CaseImages(ctx context.Context, caseID string) ([]ContentBlock, error)

	// CaseImagesText renders a plain-text description of the case images
	// for models without vision support. Empty means no images.
	CaseImagesText(ctx context.Context, caseID string) (string, error)
}

var navigatePattern = regexp.MustCompile(`\bnavigate\s+--case-id[=\s]+(\d+)`)

// NavigateCaseID extracts the case id from a shell command that navigates
// to a case, or "" when the command is not a navigation.
func NavigateCaseID(command string) string {
	m := navigatePattern.FindStringSubmatch(command)
	if m == nil {
		return ""
	}
	return m[1]
}

var imageMIMETypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// EncodeImageFile reads a local image and encodes it as a base64 data URL.
// The MIME type comes from the file extension, defaulting to image/png.
func EncodeImageFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image %s: %w", path, err)
	}

	mimeType, ok := imageMIMETypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		mimeType = "image/png"
	}

	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)), nil
}

// injectCaseImages appends a user message carrying the case's images, in
// multimodal or text form depending on the active model profile. Returns
// false when the case has no images, so a no-image case leaves the
// conversation untouched.
func (a *Agent) injectCaseImages(ctx context.Context, messages *[]Message, caseID string) bool {
	if a.supportsVision() {
		blocks, err := a.images.CaseImages(ctx, caseID)
		if err != nil {
			a.logger.Warn().Err(err).Str("case_id", caseID).Msg("Failed to load case images")
			return false
		}
		if len(blocks) == 0 {
			return false
		}
		*messages = append(*messages, UserBlocks(blocks...))
		return true
	}

	text, err := a.images.CaseImagesText(ctx, caseID)
	if err != nil {
		a.logger.Warn().Err(err).Str("case_id", caseID).Msg("Failed to describe case images")
		return false
	}
	if text == "" {
		return false
	}
	*messages = append(*messages, UserMessage(text))
	return true
}

// attachCaseImages adds the case's images to an existing user message,
// used when the caller names a case up front. Returns false when the case
// has no images.
func (a *Agent) attachCaseImages(ctx context.Context, msg *Message, caseID string) bool {
	if a.supportsVision() {
		blocks, err := a.images.CaseImages(ctx, caseID)
		if err != nil {
			a.logger.Warn().Err(err).Str("case_id", caseID).Msg("Failed to load case images")
			return false
		}
		if len(blocks) == 0 {
			return false
		}
		msg.AppendBlocks(blocks...)
		return true
	}

	text, err := a.images.CaseImagesText(ctx, caseID)
	if err != nil {
		a.logger.Warn().Err(err).Str("case_id", caseID).Msg("Failed to describe case images")
		return false
	}
	if text == "" {
		return false
	}
	msg.AppendText("\n\n" + text)
	return true
}
