package openclinica

import (
	"bytes"
	"context"

	"github.com/ehr/ocbridge/internal/domain/study"
)

// ImportODM submits a clinical-data document to the data import service.
func (c *Client) ImportODM(ctx context.Context, odm []byte) error {
	const op = "importODM"
	var resp importResponse
	if err := c.call(ctx, serviceData, op, importRequest{ODM: string(stripDeclaration(odm))}, &resp); err != nil {
		return err
	}
	if !resp.ok() {
		return &study.RemoteError{Operation: op, Messages: resp.messages()}
	}
	return nil
}

// stripDeclaration removes a leading XML declaration, which may not appear
// inside the SOAP body.
func stripDeclaration(doc []byte) []byte {
	doc = bytes.TrimSpace(doc)
	if bytes.HasPrefix(doc, []byte("<?xml")) {
		if end := bytes.Index(doc, []byte("?>")); end >= 0 {
			doc = bytes.TrimSpace(doc[end+2:])
		}
	}
	return doc
}
