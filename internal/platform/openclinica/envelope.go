package openclinica

import (
	"encoding/xml"
	"strings"
)

const (
	nsSOAP         = "http://schemas.xmlsoap.org/soap/envelope/"
	nsWSSE         = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	passwordTextNS = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordText"
)

type requestEnvelope struct {
	XMLName xml.Name      `xml:"soapenv:Envelope"`
	SOAPNS  string        `xml:"xmlns:soapenv,attr"`
	Header  requestHeader `xml:"soapenv:Header"`
	Body    requestBody   `xml:"soapenv:Body"`
}

type requestHeader struct {
	Security security `xml:"wsse:Security"`
}

type security struct {
	NS             string        `xml:"xmlns:wsse,attr"`
	MustUnderstand string        `xml:"soapenv:mustUnderstand,attr"`
	Token          usernameToken `xml:"wsse:UsernameToken"`
}

type usernameToken struct {
	Username string   `xml:"wsse:Username"`
	Password password `xml:"wsse:Password"`
}

type password struct {
	Type  string `xml:"Type,attr"`
	Value string `xml:",chardata"`
}

type requestBody struct {
	Content any
}

func (c *Client) envelope(req any) ([]byte, error) {
	env := requestEnvelope{
		SOAPNS: nsSOAP,
		Header: requestHeader{Security: security{
			NS:             nsWSSE,
			MustUnderstand: "1",
			Token: usernameToken{
				Username: c.username,
				Password: password{Type: passwordTextNS, Value: c.password},
			},
		}},
		Body: requestBody{Content: req},
	}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

type responseEnvelope struct {
	XMLName xml.Name     `xml:"Envelope"`
	Body    responseBody `xml:"Body"`
}

type responseBody struct {
	Fault   *soapFault `xml:"Fault"`
	Content []byte     `xml:",innerxml"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail string `xml:"detail"`
}

func (f *soapFault) Message() string {
	parts := []string{}
	for _, p := range []string{f.Code, f.String, strings.TrimSpace(f.Detail)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ": ")
}

// status is the result block shared by all OpenClinica responses.
type status struct {
	Result string   `xml:"result"`
	Errors []string `xml:"error"`
}

func (s status) ok() bool {
	return strings.EqualFold(strings.TrimSpace(s.Result), "success")
}

func (s status) messages() []string {
	if len(s.Errors) == 0 {
		return []string{"result: " + s.Result}
	}
	return s.Errors
}
