// Package odrvcookie fetches the FedAuth/rtFa cookie pair a Sharepoint
// WebDAV endpoint requires in place of Basic auth, adapted from the
// teacher's backend/webdav/odrvcookie package: exchange credentials
// for a SAML security token against Microsoft's login STS, then trade
// that token for the session cookies via the site's sign-in form.
package odrvcookie

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"html/template"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/publicsuffix"

	"github.com/hubdrive/drivercore/internal/fshttp"
)

// CookieAuth holds the credentials and endpoint needed to run the
// exchange.
type CookieAuth struct {
	user     string
	pass     string
	endpoint string
}

// CookieResponse carries the two cookies a Sharepoint WebDAV request
// must present.
type CookieResponse struct {
	RtFa    http.Cookie
	FedAuth http.Cookie
}

// SharepointSuccessResponse is the STS SOAP envelope carrying the
// issued security token.
type SharepointSuccessResponse struct {
	XMLName xml.Name            `xml:"Envelope"`
	Body    SuccessResponseBody `xml:"Body"`
}

// SuccessResponseBody is the body of a successful token response.
type SuccessResponseBody struct {
	XMLName xml.Name
	Type    string    `xml:"RequestSecurityTokenResponse>TokenType"`
	Created time.Time `xml:"RequestSecurityTokenResponse>Lifetime>Created"`
	Expires time.Time `xml:"RequestSecurityTokenResponse>Lifetime>Expires"`
	Token   string    `xml:"RequestSecurityTokenResponse>RequestedSecurityToken>BinarySecurityToken"`
}

// SharepointError is the SOAP fault body the STS returns on a rejected
// login.
type SharepointError struct {
	XMLName xml.Name          `xml:"Envelope"`
	Body    ErrorResponseBody `xml:"Body"`
}

func (e *SharepointError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Body.FaultCode, e.Body.Reason, e.Body.Detail)
}

// ErrorResponseBody is the body of an STS fault response.
type ErrorResponseBody struct {
	XMLName   xml.Name
	FaultCode string `xml:"Fault>Code>Subcode>Value"`
	Reason    string `xml:"Fault>Reason>Text"`
	Detail    string `xml:"Fault>Detail>error>internalerror>text"`
}

const reqTemplate = `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"
xmlns:a="http://www.w3.org/2005/08/addressing"
xmlns:u="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">
<s:Header>
<a:Action s:mustUnderstand="1">http://schemas.xmlsoap.org/ws/2005/02/trust/RST/Issue</a:Action>
<a:ReplyTo>
<a:Address>http://www.w3.org/2005/08/addressing/anonymous</a:Address>
</a:ReplyTo>
<a:To s:mustUnderstand="1">https://login.microsoftonline.com/extSTS.srf</a:To>
<o:Security s:mustUnderstand="1"
 xmlns:o="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
<o:UsernameToken>
  <o:Username>{{ .Username }}</o:Username>
  <o:Password>{{ .Password }}</o:Password>
</o:UsernameToken>
</o:Security>
</s:Header>
<s:Body>
<t:RequestSecurityToken xmlns:t="http://schemas.xmlsoap.org/ws/2005/02/trust">
<wsp:AppliesTo xmlns:wsp="http://schemas.xmlsoap.org/ws/2004/09/policy">
  <a:EndpointReference>
    <a:Address>{{ .Address }}</a:Address>
  </a:EndpointReference>
</wsp:AppliesTo>
<t:KeyType>http://schemas.xmlsoap.org/ws/2005/05/identity/NoProofKey</t:KeyType>
<t:RequestType>http://schemas.xmlsoap.org/ws/2005/02/trust/Issue</t:RequestType>
<t:TokenType>urn:oasis:names:tc:SAML:1.0:assertion</t:TokenType>
</t:RequestSecurityToken>
</s:Body>
</s:Envelope>`

// New builds a CookieAuth for the given credentials and endpoint.
func New(user, pass, endpoint string) CookieAuth {
	return CookieAuth{user: user, pass: pass, endpoint: endpoint}
}

// Cookies runs the two-step exchange: fetch a security token, then
// trade it for the FedAuth/rtFa session cookies.
func (ca *CookieAuth) Cookies(ctx context.Context) (*CookieResponse, error) {
	token, err := ca.fetchToken(ctx)
	if err != nil {
		return nil, err
	}
	return ca.fetchSessionCookies(ctx, token)
}

func (ca *CookieAuth) fetchSessionCookies(ctx context.Context, conf *SharepointSuccessResponse) (*CookieResponse, error) {
	spRoot, err := url.Parse(ca.endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "odrvcookie: bad endpoint URL")
	}
	signinURL, err := url.Parse(spRoot.Scheme + "://" + spRoot.Host + "/_forms/default.aspx?wa=wsignin1.0")
	if err != nil {
		return nil, errors.Wrap(err, "odrvcookie: bad sign-in URL")
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	client := &http.Client{Jar: jar}

	req, err := http.NewRequestWithContext(ctx, "POST", signinURL.String(), strings.NewReader(conf.Body.Token))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml")
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "odrvcookie: sign-in request failed")
	}
	resp.Body.Close() //nolint:errcheck

	var out CookieResponse
	for _, cookie := range jar.Cookies(signinURL) {
		switch cookie.Name {
		case "rtFa":
			out.RtFa = *cookie
		case "FedAuth":
			out.FedAuth = *cookie
		}
	}
	return &out, nil
}

func (ca *CookieAuth) fetchToken(ctx context.Context) (*SharepointSuccessResponse, error) {
	t := template.Must(template.New("odrvcookieAuth").Parse(reqTemplate))
	var buf bytes.Buffer
	if err := t.Execute(&buf, map[string]string{
		"Username": ca.user,
		"Password": ca.pass,
		"Address":  ca.endpoint,
	}); err != nil {
		return nil, errors.Wrap(err, "odrvcookie: filling auth template")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://login.microsoftonline.com/extSTS.srf", &buf)
	if err != nil {
		return nil, err
	}
	client := fshttp.NewClient(fshttp.Options{UserAgent: "drivercore-webdav/1.0"})
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "odrvcookie: STS login request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	var respBuf bytes.Buffer
	if _, err := respBuf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	body := respBuf.Bytes()

	conf := &SharepointSuccessResponse{}
	err = xml.Unmarshal(body, conf)
	if conf.Body.Token == "" {
		// xml.Unmarshal doesn't fail on an unrecognized shape, it just
		// leaves Token empty; try decoding the fault instead.
		sErr := &SharepointError{}
		if decodeErr := xml.Unmarshal(body, sErr); decodeErr == nil && sErr.Body.FaultCode != "" {
			return nil, sErr
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "odrvcookie: decoding STS response")
	}
	return conf, nil
}
