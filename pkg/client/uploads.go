package client

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"PolyChat/pkg/apperr"
	svc "PolyChat/pkg/services"
)

func (c *Client) UploadToken(ctx context.Context) (*svc.UploadTokenResponse, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	var out svc.UploadTokenResponse
	if err := c.call(ctx, http.MethodGet, "/uploads/token", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadAttachment fetches an upload token and posts the file. The returned
// FileURL can be passed to SendMessage.
func (c *Client) UploadAttachment(ctx context.Context, filename string, r io.Reader) (*svc.SaveAttachmentResponse, error) {
	tok, err := c.UploadToken(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("upload_token", tok.UploadToken); err != nil {
		return nil, err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+escapeQuotes(filename)+`"`)
	h.Set("Content-Type", "application/octet-stream")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(part, io.LimitReader(r, tok.MaxSize+1))
	if err != nil {
		return nil, apperr.Validationf("read attachment: %v", err)
	}
	if n > tok.MaxSize {
		return nil, apperr.Validationf("attachment exceeds %d bytes", tok.MaxSize)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uploads", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.Token())

	var out svc.SaveAttachmentResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func escapeQuotes(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
