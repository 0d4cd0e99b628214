package description

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/netip"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrFetchFailed indicates a description document could not be retrieved.
var ErrFetchFailed = errors.New("description fetch failed")

// maxDocumentSize bounds description and SCPD bodies.
const maxDocumentSize = 1 << 20

// fetchConcurrency bounds concurrent SCPD requests per device.
const fetchConcurrency = 4

// Fetch retrieves the device description at location and the SCPD of every
// service it declares.
//
// On success the returned descriptor is Ready. When an SCPD cannot be
// retrieved or parsed, the descriptor is returned in state Erroneous
// together with the error.
func Fetch(ctx context.Context, client *http.Client, location string, localAddr netip.Addr) (*RootDescriptor, error) {
	if client == nil {
		client = http.DefaultClient
	}

	body, err := get(ctx, client, location)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDeviceDescription(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}

	rd, err := NewRootDescriptor(doc, Link{DescriptionLocation: location, LocalAddress: localAddr})
	if err != nil {
		return rd, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, services := range rd.ServiceDescriptors {
		for _, sd := range services {
			g.Go(func() error {
				body, err := get(gctx, client, sd.SCPDURL)
				if err != nil {
					return err
				}
				scpd, err := ParseSCPD(strings.NewReader(body))
				if err != nil {
					return fmt.Errorf("SCPD of %s: %w", sd.ServiceTypeVersionURN, err)
				}
				sd.SCPD = scpd
				sd.State = StateReady
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		rd.State = StateErroneous
		return rd, err
	}

	rd.State = StateReady
	return rd, nil
}

func get(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned status %d", ErrFetchFailed, rawURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err == nil && mt != "text/xml" && mt != "application/xml" {
			return "", fmt.Errorf("%w: %s has content type %q", ErrFetchFailed, rawURL, mt)
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return string(data), nil
}
