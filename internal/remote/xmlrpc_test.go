package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	reMethod = regexp.MustCompile(`<methodName>([^<]+)</methodName>`)
	reString = regexp.MustCompile(`<string>([^<]*)</string>`)
)

// fakeInstance odpowiada na XML-RPC jak minimalna instancja ERP.
type fakeInstance struct {
	mu      sync.Mutex
	calls   []string
	replies map[string]string // "model.method" albo "authenticate" -> <value>...</value> lub fault
}

func (f *fakeInstance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	method := ""
	if m := reMethod.FindSubmatch(body); m != nil {
		method = string(m[1])
	}
	key := method
	if method == "execute_kw" {
		strs := reString.FindAllSubmatch(body, -1)
		if len(strs) >= 4 {
			key = string(strs[2][1]) + "." + string(strs[3][1])
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, key)
	reply, ok := f.replies[key]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/xml")
	if !ok {
		reply = faultXML(1, "unexpected call "+key)
	}
	_, _ = io.WriteString(w, reply)
}

func valueXML(v string) string {
	return `<?xml version="1.0"?><methodResponse><params><param><value>` + v + `</value></param></params></methodResponse>`
}

func faultXML(code int, msg string) string {
	return `<?xml version="1.0"?><methodResponse><fault><value><struct>` +
		`<member><name>faultCode</name><value><int>` + strconv.Itoa(code) + `</int></value></member>` +
		`<member><name>faultString</name><value><string>` + msg + `</string></value></member>` +
		`</struct></value></fault></methodResponse>`
}

func newFake(replies map[string]string) (*fakeInstance, *httptest.Server) {
	f := &fakeInstance{replies: replies}
	return f, httptest.NewServer(f)
}

func target(url string) Target {
	return Target{
		Endpoint:    Endpoint{URL: url, VerifySSL: true, Timeout: 2 * time.Second},
		Credentials: Credentials{Database: "client_db", Username: "sync@client", APIKey: "secret"},
	}
}

func TestConnectAndTestConnection(t *testing.T) {
	f, srv := newFake(map[string]string{
		"authenticate":                  valueXML(`<int>7</int>`),
		"product.template.search_count": valueXML(`<int>42</int>`),
	})
	defer srv.Close()

	d := NewXMLRPCDialer(zerolog.Nop(), nil)
	s, err := d.Connect(context.Background(), target(srv.URL))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.TestConnection(context.Background()))
	assert.Equal(t, []string{"authenticate", "product.template.search_count"}, f.calls)
}

func TestConnectRejectedCredentials(t *testing.T) {
	_, srv := newFake(map[string]string{
		"authenticate": valueXML(`<boolean>0</boolean>`),
	})
	defer srv.Close()

	_, err := NewXMLRPCDialer(zerolog.Nop(), nil).Connect(context.Background(), target(srv.URL))
	var aerr *AuthenticationError
	require.ErrorAs(t, err, &aerr)
}

func TestConnectAccessDeniedFault(t *testing.T) {
	_, srv := newFake(map[string]string{
		"authenticate": faultXML(3, "Access Denied"),
	})
	defer srv.Close()

	_, err := NewXMLRPCDialer(zerolog.Nop(), nil).Connect(context.Background(), target(srv.URL))
	assert.True(t, IsAuthentication(err), "%v", err)
}

func TestConnectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewXMLRPCDialer(zerolog.Nop(), nil).Connect(context.Background(), target(url))
	assert.True(t, IsConnection(err), "%v", err)

	_, err = NewXMLRPCDialer(zerolog.Nop(), nil).Connect(context.Background(), target("ftp://example"))
	assert.True(t, IsConnection(err), "%v", err)
}

func TestFaultBecomesRemoteError(t *testing.T) {
	_, srv := newFake(map[string]string{
		"authenticate":            valueXML(`<int>7</int>`),
		"product.category.search": valueXML(`<array><data></data></array>`),
		"product.category.create": faultXML(1, "ValidationError: name too long"),
	})
	defer srv.Close()

	s, err := NewXMLRPCDialer(zerolog.Nop(), nil).Connect(context.Background(), target(srv.URL))
	require.NoError(t, err)

	_, err = s.FindOrCreateCategory(context.Background(), "Tools", 0)
	var rerr *RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 1, rerr.Code)
	assert.Contains(t, rerr.Message, "name too long")
}

func TestFetchCategoriesDecodesRows(t *testing.T) {
	rows := `<array><data>` +
		`<value><struct>` +
		`<member><name>id</name><value><int>3</int></value></member>` +
		`<member><name>name</name><value><string>Tools</string></value></member>` +
		`<member><name>complete_name</name><value><string>All / Tools</string></value></member>` +
		`</struct></value>` +
		`<value><struct>` +
		`<member><name>id</name><value><int>4</int></value></member>` +
		`<member><name>name</name><value><string>Paint</string></value></member>` +
		`<member><name>complete_name</name><value><boolean>0</boolean></value></member>` +
		`</struct></value>` +
		`</data></array>`
	_, srv := newFake(map[string]string{
		"authenticate":                 valueXML(`<int>7</int>`),
		"product.category.search_read": valueXML(rows),
	})
	defer srv.Close()

	s, err := NewXMLRPCDialer(zerolog.Nop(), nil).Connect(context.Background(), target(srv.URL))
	require.NoError(t, err)

	cats, err := s.FetchCategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Category{
		{ID: 3, Name: "Tools", CompleteName: "All / Tools"},
		{ID: 4, Name: "Paint", CompleteName: "Paint"},
	}, cats)
}

func TestFindOrCreateProductCreatesWhenMissing(t *testing.T) {
	f, srv := newFake(map[string]string{
		"authenticate":            valueXML(`<int>7</int>`),
		"product.template.search": valueXML(`<array><data></data></array>`),
		"product.template.create": valueXML(`<int>501</int>`),
	})
	defer srv.Close()

	s, err := NewXMLRPCDialer(zerolog.Nop(), nil).Connect(context.Background(), target(srv.URL))
	require.NoError(t, err)

	id, created, err := s.FindOrCreateProduct(context.Background(), ProductRef{ExternalKey: "SUP-A100"}, Values{"name": "Widget"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.EqualValues(t, 501, id)
	assert.Equal(t, []string{"authenticate", "product.template.search", "product.template.create"}, f.calls)
}
