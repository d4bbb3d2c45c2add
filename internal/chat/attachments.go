package chat

import (
	"errors"
	"strings"
)

// WireAttachment is the shape attachments take on a chat.send request.
type WireAttachment struct {
	Type     string `json:"type"`
	MimeType string `json:"mimeType"`
	Content  string `json:"content"` // base64
}

// parseDataURL splits a data URL into its mime type and base64 payload.
// Only base64-encoded data URLs are accepted; the engine never inflates the
// payload, it travels base64 end to end.
func parseDataURL(raw string) (mimeType string, content string, err error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "data:") {
		return "", "", errors.New("not a data url")
	}
	rest := strings.TrimPrefix(raw, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", "", errors.New("malformed data url")
	}
	meta := rest[:comma]
	content = rest[comma+1:]
	if content == "" {
		return "", "", errors.New("empty data url payload")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", errors.New("data url is not base64")
	}
	mimeType = strings.TrimSuffix(meta, ";base64")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return mimeType, content, nil
}

func attachmentKind(mimeType string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/") {
		return BlockTypeImage
	}
	return "file"
}

// toWireAttachment translates a client-side attachment for the gateway.
// The declared media type wins over the data URL's when both are present.
func toWireAttachment(a Attachment) (WireAttachment, error) {
	mimeType, content, err := parseDataURL(a.DataURL)
	if err != nil {
		return WireAttachment{}, err
	}
	if declared := strings.TrimSpace(a.MimeType); declared != "" {
		mimeType = declared
	}
	return WireAttachment{
		Type:     attachmentKind(mimeType),
		MimeType: mimeType,
		Content:  content,
	}, nil
}

// attachmentBlock builds the optimistic content block mirrored into the
// local transcript while the send is in flight.
func attachmentBlock(w WireAttachment) ContentBlock {
	if w.Type == BlockTypeImage {
		return ContentBlock{Type: BlockTypeImage, MimeType: w.MimeType, Content: w.Content}
	}
	return ContentBlock{Type: BlockTypeText, Text: "[attachment: " + w.MimeType + "]"}
}
