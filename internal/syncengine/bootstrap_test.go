package syncengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ncsync/ncsync/internal/tree"
	"github.com/ncsync/ncsync/internal/webdav"
)

func TestBootstrap_PopulatesTreeFromRemoteWalk(t *testing.T) {
	t.Parallel()

	body := `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>/remote.php/dav/files/alice/</d:href>
    <d:propstat><d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/files/alice/notes/</d:href>
    <d:propstat><d:prop><d:resourcetype><d:collection/></d:resourcetype><d:getetag>"d1"</d:getetag></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/files/alice/notes/todo.txt</d:href>
    <d:propstat><d:prop><d:resourcetype/><d:getetag>"f1"</d:getetag><d:getcontentlength>42</d:getcontentlength></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat>
  </d:response>
</d:multistatus>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(207)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	client := webdav.New(srv.URL+"/remote.php/dav/files/alice", http.DefaultClient, staticCreds{"alice", "secret"}, testLogger())

	tr := tree.New()

	if err := Bootstrap(context.Background(), client, tr); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	entry, err := tr.Get("/notes/todo.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if entry.Kind != tree.KindFile || entry.Size != 42 {
		t.Errorf("entry = %+v, want file of size 42", entry)
	}
}
