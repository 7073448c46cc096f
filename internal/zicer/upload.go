package zicer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"

	"github.com/gabriel-vasile/mimetype"

	"github.com/zicerhq/zicer-sync/internal/errors"
)

// UploadMedia uploads one image for a listing as multipart form data.
// position is the zero-based slot within the listing's gallery. Uploads
// get a longer timeout than regular calls; image bodies can be large.
func (c *Client) UploadMedia(ctx context.Context, listingID, fileName string, data []byte, position int) (*Media, error) {
	if err := c.checkRateLimit(); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	contentType := mimetype.Detect(data).String()
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to build multipart body", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to write image data", err)
	}
	if err := writer.WriteField("position", strconv.Itoa(position)); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to write position field", err)
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to finalize multipart body", err)
	}

	path := "/listings/" + url.PathEscape(listingID) + "/media"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to build upload request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrTransport, "media upload failed", err)
	}
	defer resp.Body.Close()

	c.captureRateLimit(resp)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrTransport, "failed to read upload response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, respBody)
	}

	var media Media
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &media); err != nil {
			return nil, errors.Wrap(errors.ErrAPI, "failed to decode upload response", err)
		}
	}
	return &media, nil
}

// DeleteMedia removes an uploaded image from a listing.
func (c *Client) DeleteMedia(ctx context.Context, listingID, mediaID string) error {
	path := "/listings/" + url.PathEscape(listingID) + "/media/" + url.PathEscape(mediaID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}
