package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Client handles SOAP requests to Sonos devices.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *log.Logger
}

// NewClient creates a SOAP client with the given timeout.
// Uses connection pooling for better performance when making multiple requests.
func NewClient(timeout time.Duration, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		timeout: timeout,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// ExecuteAction sends a SOAP request and returns the raw response body.
// The payload is not interpreted beyond UPnP fault detection.
func (c *Client) ExecuteAction(
	ctx context.Context,
	target Target,
	service Service,
	action string,
	args map[string]string,
) ([]byte, error) {
	serviceType := serviceTypes[service]
	controlPath := controlPaths[service]
	if serviceType == "" || controlPath == "" {
		return nil, fmt.Errorf("unknown service: %s", service)
	}

	body := buildEnvelope(serviceType, action, args)
	url := "http://" + target.HostPort() + controlPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "text/xml; charset=\"utf-8\"")
	req.Header.Set("SOAPACTION", fmt.Sprintf("\"%s#%s\"", serviceType, action))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, &SonosTimeoutError{Action: action}
		}
		return nil, &SonosUnreachableError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		code, desc := parseSoapFault(payload)
		if code != "" {
			return nil, &SonosRejectedError{Action: action, Code: code, Description: desc}
		}
		return nil, fmt.Errorf("sonos action %s failed: http %d", action, resp.StatusCode)
	}

	return payload, nil
}

// FireAction runs ExecuteAction on its own goroutine and returns immediately.
// Failures are logged; the response body is discarded.
func (c *Client) FireAction(target Target, service Service, action string, args map[string]string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if _, err := c.ExecuteAction(ctx, target, service, action, args); err != nil {
			c.logger.Printf("SOAP: %s on %s failed: %v", action, target.HostPort(), err)
		}
	}()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

const (
	envelopeOpen  = `<?xml version="1.0" encoding="utf-8"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body>`
	envelopeClose = `</s:Body></s:Envelope>`
)

func buildEnvelope(serviceType, action string, args map[string]string) []byte {
	var buf bytes.Buffer
	buf.WriteString(envelopeOpen)
	fmt.Fprintf(&buf, `<u:%s xmlns:u="%s">`, action, serviceType)
	for _, key := range orderedKeys(args) {
		fmt.Fprintf(&buf, "<%s>%s</%s>", key, EscapeXML(args[key]), key)
	}
	fmt.Fprintf(&buf, "</u:%s>", action)
	buf.WriteString(envelopeClose)
	return buf.Bytes()
}

// orderedKeys puts InstanceID and Channel first, as the UPnP service descriptions do.
func orderedKeys(args map[string]string) []string {
	keys := make([]string, 0, len(args))
	for key := range args {
		if key == "InstanceID" || key == "Channel" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	leading := make([]string, 0, 2)
	for _, key := range []string{"InstanceID", "Channel"} {
		if _, ok := args[key]; ok {
			leading = append(leading, key)
		}
	}
	return append(leading, keys...)
}

var (
	xmlEscaper = strings.NewReplacer(
		"&", "&amp;",
		"\"", "&quot;",
		"'", "&apos;",
		"<", "&lt;",
		">", "&gt;",
	)
	xmlUnescaper = strings.NewReplacer(
		"&amp;", "&",
		"&quot;", "\"",
		"&apos;", "'",
		"&#x27;", "'",
		"&#39;", "'",
		"&lt;", "<",
		"&gt;", ">",
	)
)

// EscapeXML escapes the five XML special characters.
func EscapeXML(input string) string {
	return xmlEscaper.Replace(input)
}

// UnescapeXML reverses EscapeXML. Each entity is decoded once.
func UnescapeXML(input string) string {
	return xmlUnescaper.Replace(input)
}

func parseSoapFault(payload []byte) (string, string) {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	var code string
	var desc string

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "errorCode":
				var value string
				if err := decoder.DecodeElement(&value, &se); err == nil {
					code = strings.TrimSpace(value)
				}
			case "errorDescription":
				var value string
				if err := decoder.DecodeElement(&value, &se); err == nil {
					desc = strings.TrimSpace(value)
				}
			}
		}
	}

	return code, desc
}
