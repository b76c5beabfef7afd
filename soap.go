package onvif

import (
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/SridarDhandapani/onvif/v2/xmltree"
)

const envelopeOpen = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"` +
	` xmlns:tds="http://www.onvif.org/ver10/device/wsdl"` +
	` xmlns:trt="http://www.onvif.org/ver10/media/wsdl"` +
	` xmlns:tt="http://www.onvif.org/ver10/schema"` +
	` xmlns:timg="http://www.onvif.org/ver20/imaging/wsdl"` +
	` xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl">`

const securityTemplate = `<Security s:mustUnderstand="1" xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">` +
	`<UsernameToken>` +
	`<Username>%s</Username>` +
	`<Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">%s</Password>` +
	`<Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">%s</Nonce>` +
	`<Created xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">%s</Created>` +
	`</UsernameToken>` +
	`</Security>`

const bodyOpen = `</s:Header><s:Body xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema">`

// buildHeader emits the envelope opening tag and header block. The security
// block is embedded only when requested and a username is configured. With
// openOnly the header is left open so callers can append header elements
// before closing it with headerClose.
func (c *Client) buildHeader(includeSecurity, openOnly bool) (string, error) {
	var b strings.Builder
	b.WriteString(envelopeOpen)
	b.WriteString("<s:Header>")

	if includeSecurity && c.cfg.Username != "" {
		digest, err := newPasswordDigest(c.cfg.Password, c.deviceTime())
		if err != nil {
			return "", errors.Trace(err)
		}
		fmt.Fprintf(&b, securityTemplate,
			escapeXML(c.cfg.Username), digest.Digest, digest.Nonce, digest.Created)
	}

	if !openOnly {
		b.WriteString(bodyOpen)
	}
	return b.String(), nil
}

// headerClose closes a header opened with buildHeader(_, true)
func headerClose() string {
	return bodyOpen
}

// buildFooter closes the body and the envelope
func buildFooter() string {
	return "</s:Body></s:Envelope>"
}

// buildEnvelope wraps a body fragment into a complete envelope. extraHeader
// is appended inside the header after the security block.
func (c *Client) buildEnvelope(body, extraHeader string, signed bool) (string, error) {
	if extraHeader == "" {
		header, err := c.buildHeader(signed, false)
		if err != nil {
			return "", err
		}
		return header + body + buildFooter(), nil
	}

	header, err := c.buildHeader(signed, true)
	if err != nil {
		return "", err
	}
	return header + extraHeader + headerClose() + body + buildFooter(), nil
}

// decode parses a response envelope and returns its Body element. A SOAP
// fault is returned as a protocol error together with the Body.
func decode(op string, raw []byte) (*xmltree.Node, error) {
	root, err := xmltree.Parse(raw)
	if err != nil {
		return nil, newError(KindProtocol, op, err)
	}
	if root.Name != "Envelope" {
		return nil, protocolError(op, "unexpected root element %q, not a SOAP envelope", root.Name)
	}

	body := root.Child("Body")
	if body == nil {
		return nil, protocolError(op, "SOAP envelope has no Body")
	}

	if fault := body.Child("Fault"); fault != nil {
		return body, newError(KindProtocol, op, parseFault(fault))
	}

	return body, nil
}

// parseFault reads SOAP 1.2 (Code/Reason) and SOAP 1.1 (faultcode/faultstring)
// faults
func parseFault(fault *xmltree.Node) *SOAPFault {
	f := &SOAPFault{
		Code:   fault.Value("Code", "Value"),
		Reason: fault.Value("Reason", "Text"),
	}

	// the innermost subcode is the most specific one
	for sub := fault.Path("Code", "Subcode"); sub != nil; sub = sub.Child("Subcode") {
		if v := sub.Value("Value"); v != "" {
			f.Subcode = v
		}
	}

	if f.Code == "" {
		f.Code = fault.Value("faultcode")
	}
	if f.Reason == "" {
		f.Reason = fault.Value("faultstring")
	}

	if msg := knownFaults[localName(f.Subcode)]; msg != "" {
		if f.Reason == "" {
			f.Reason = msg
		} else {
			f.Reason = msg + ": " + f.Reason
		}
	}
	if f.Reason == "" {
		f.Reason = "SOAP fault in response"
	}

	return f
}

// knownFaults maps common ONVIF fault subcodes to readable text
var knownFaults = map[string]string{
	"UsernameClash":      "username already exists",
	"UsernameMissing":    "username not found",
	"TooManyUsers":       "maximum number of users reached",
	"FixedUser":          "cannot modify or delete fixed user",
	"Password":           "password does not meet requirements",
	"NotAuthorized":      "not authorized",
	"ActionNotSupported": "action not supported",
}

// expectEmptyResponse enforces the acknowledgement contract of set
// operations: the response element must be present and empty
func expectEmptyResponse(op string, body *xmltree.Node, name string) error {
	resp := body.Child(name)
	if resp == nil {
		return protocolError(op, "missing %s in response", name)
	}
	if !resp.IsEmpty() {
		return protocolError(op, "%s is not empty, device reported a failure", name)
	}
	return nil
}

func localName(qualified string) string {
	if i := strings.LastIndex(qualified, ":"); i != -1 {
		return qualified[i+1:]
	}
	return qualified
}

// escapeXML escapes special XML characters in a string
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
