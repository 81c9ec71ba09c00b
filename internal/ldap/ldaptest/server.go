// Package ldaptest provides an in-process LDAP server for tests.
//
// The server understands simple bind, unbind and searches whose filter is a
// single equality match, which is everything an export run sends.
package ldaptest

import (
	"errors"
	"net"
	"strings"
	"sync"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// Search records one search request received by the server.
type Search struct {
	BaseDN     string
	Scope      int64
	TimeLimit  int64
	Attribute  string
	Value      string
	Attributes []string
}

// Server is a minimal LDAP server listening on the loopback interface.
// Configure the exported fields before calling Start.
type Server struct {
	// BindDN and Password are the accepted simple bind credentials.
	// When BindDN is empty any bind succeeds.
	BindDN   string
	Password string

	// Entries is the directory content.
	Entries []*ldap.Entry

	// Results maps an equality value to the result code returned for it
	// instead of entries.
	Results map[string]uint16

	// DropOn is an equality value whose search closes the connection
	// without a response.
	DropOn string

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	searches []Search
	binds    int
}

// Start listens on a random loopback port and serves connections until Close.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	s.listener = l
	s.conns = make(map[net.Conn]struct{})

	s.wg.Add(1)
	go s.serve()
	return nil
}

// URL returns the ldap:// URL of the server.
func (s *Server) URL() string {
	return "ldap://" + s.listener.Addr().String()
}

// Close stops the listener, drops all connections and waits for them to finish.
func (s *Server) Close() {
	s.listener.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Searches returns the searches received so far.
func (s *Server) Searches() []Search {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Search(nil), s.searches...)
}

// Binds returns the number of bind requests received so far.
func (s *Server) Binds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binds
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	for {
		packet, err := ber.ReadPacket(conn)
		if err != nil {
			return
		}
		if len(packet.Children) < 2 {
			return
		}

		id, ok := packet.Children[0].Value.(int64)
		if !ok {
			return
		}
		op := packet.Children[1]
		if op.ClassType != ber.ClassApplication {
			return
		}

		var responses []*ber.Packet
		switch op.Tag {
		case ldap.ApplicationBindRequest:
			responses = []*ber.Packet{s.bind(op)}
		case ldap.ApplicationUnbindRequest:
			return
		case ldap.ApplicationSearchRequest:
			var drop bool
			responses, drop = s.search(op)
			if drop {
				return
			}
		default:
			responses = []*ber.Packet{result(ldap.ApplicationExtendedResponse, ldap.LDAPResultUnwillingToPerform, "unsupported operation")}
		}

		for _, r := range responses {
			if _, err := conn.Write(envelope(id, r).Bytes()); err != nil {
				return
			}
		}
	}
}

func (s *Server) bind(op *ber.Packet) *ber.Packet {
	s.mu.Lock()
	s.binds++
	s.mu.Unlock()

	if len(op.Children) < 3 {
		return result(ldap.ApplicationBindResponse, ldap.LDAPResultProtocolError, "malformed bind request")
	}
	name := op.Children[1].Data.String()
	password := op.Children[2].Data.String()

	if s.BindDN != "" && (!strings.EqualFold(name, s.BindDN) || password != s.Password) {
		return result(ldap.ApplicationBindResponse, ldap.LDAPResultInvalidCredentials, "invalid credentials")
	}
	return result(ldap.ApplicationBindResponse, ldap.LDAPResultSuccess, "")
}

func (s *Server) search(op *ber.Packet) ([]*ber.Packet, bool) {
	req, err := decodeSearch(op)
	if err != nil {
		return []*ber.Packet{result(ldap.ApplicationSearchResultDone, ldap.LDAPResultProtocolError, err.Error())}, false
	}

	s.mu.Lock()
	s.searches = append(s.searches, req)
	s.mu.Unlock()

	if s.DropOn != "" && req.Value == s.DropOn {
		return nil, true
	}

	if code, ok := s.Results[req.Value]; ok {
		return []*ber.Packet{result(ldap.ApplicationSearchResultDone, code, ldap.LDAPResultCodeMap[code])}, false
	}

	var responses []*ber.Packet
	for _, entry := range s.Entries {
		if underBase(entry.DN, req.BaseDN) && hasValue(entry, req.Attribute, req.Value) {
			responses = append(responses, encodeEntry(entry))
		}
	}
	return append(responses, result(ldap.ApplicationSearchResultDone, ldap.LDAPResultSuccess, "")), false
}

func decodeSearch(op *ber.Packet) (Search, error) {
	if len(op.Children) < 8 {
		return Search{}, errors.New("malformed search request")
	}

	req := Search{BaseDN: op.Children[0].Data.String()}
	req.Scope, _ = op.Children[1].Value.(int64)
	req.TimeLimit, _ = op.Children[4].Value.(int64)

	filter := op.Children[6]
	if filter.ClassType != ber.ClassContext || filter.Tag != ldap.FilterEqualityMatch || len(filter.Children) != 2 {
		return Search{}, errors.New("only equality filters are supported")
	}
	req.Attribute = filter.Children[0].Data.String()
	req.Value = filter.Children[1].Data.String()

	for _, a := range op.Children[7].Children {
		req.Attributes = append(req.Attributes, a.Data.String())
	}
	return req, nil
}

func underBase(dn, base string) bool {
	dn, base = strings.ToLower(dn), strings.ToLower(base)
	return base == "" || dn == base || strings.HasSuffix(dn, ","+base)
}

func hasValue(entry *ldap.Entry, attribute, value string) bool {
	for _, attr := range entry.Attributes {
		if !strings.EqualFold(attr.Name, attribute) {
			continue
		}
		for _, v := range attr.Values {
			if v == value {
				return true
			}
		}
	}
	return false
}

func envelope(id int64, op *ber.Packet) *ber.Packet {
	p := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAP Response")
	p.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, id, "MessageID"))
	p.AppendChild(op)
	return p
}

func result(tag ber.Tag, code uint16, message string) *ber.Packet {
	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, tag, nil, "Result")
	op.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(code), "resultCode"))
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "", "matchedDN"))
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, message, "diagnosticMessage"))
	return op
}

func encodeEntry(entry *ldap.Entry) *ber.Packet {
	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ldap.ApplicationSearchResultEntry, nil, "Search Result Entry")
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, entry.DN, "objectName"))

	attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "attributes")
	for _, attr := range entry.Attributes {
		a := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "attribute")
		a.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, attr.Name, "type"))
		values := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSet, nil, "vals")
		for _, v := range attr.Values {
			values.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, v, "value"))
		}
		a.AppendChild(values)
		attrs.AppendChild(a)
	}
	op.AppendChild(attrs)

	return op
}
