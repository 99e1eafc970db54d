package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
nntp:
  bind: "127.0.0.1:1199"
  instance_name: "node.example"
  idle_timeout: 2m
  allow_post: false
articles:
  store_path: "/var/lib/nntpchand"
  index: badger
frontend:
  type: staticfile
  out_dir: /srv/www
  max_pages: 5
peers:
  - name: peer1
    address: peer1.example:1199
    username: feed
    password: secret
feed:
  offer_timeout: 30s
log:
  format: json
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:1199", c.NNTP.Bind)
	assert.Equal(t, "node.example", c.NNTP.InstanceName)
	assert.Equal(t, 2*time.Minute, c.NNTP.IdleTimeout)
	assert.False(t, c.NNTP.PostingAllowed())
	assert.Equal(t, 4096, c.NNTP.MaxLineLength)
	assert.Equal(t, "badger", c.Articles.Index)
	assert.Equal(t, "blake3", c.Articles.Hash)
	assert.Equal(t, 5, c.Frontend.MaxPages)
	assert.Equal(t, "html", c.Frontend.TemplateDialect)
	assert.Equal(t, "overchan.", c.Frontend.NewsgroupPrefix)
	require.Len(t, c.Peers, 1)
	assert.Equal(t, PeerConfig{Name: "peer1", Address: "peer1.example:1199", Username: "feed", Password: "secret"}, c.Peers[0])
	assert.Equal(t, 30*time.Second, c.Feed.OfferTimeout)
	assert.Equal(t, 30*time.Second, c.Feed.ReconnectInterval)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, "info", c.Log.Level)
}

func TestDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, ":1199", c.NNTP.Bind)
	assert.True(t, c.NNTP.PostingAllowed())
	assert.Equal(t, "none", c.Frontend.Type)
	assert.Equal(t, 65536, c.Feed.KnowledgeSize)
	assert.Empty(t, c.Metrics.Bind)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"missing instance":   "nntp: {bind: ':1'}",
		"unknown index":      "nntp: {instance_name: x}\narticles: {index: leveldb}",
		"unknown hash":       "nntp: {instance_name: x}\narticles: {hash: md5}",
		"exec without prog":  "nntp: {instance_name: x}\nfrontend: {type: exec}",
		"staticfile no out":  "nntp: {instance_name: x}\nfrontend: {type: staticfile}",
		"negative max pages": "nntp: {instance_name: x}\nfrontend: {type: staticfile, out_dir: /tmp, max_pages: -1}",
		"bad dialect":        "nntp: {instance_name: x}\nfrontend: {type: staticfile, out_dir: /tmp, template_dialect: jinja}",
		"unknown frontend":   "nntp: {instance_name: x}\nfrontend: {type: carrier}",
		"peer without addr":  "nntp: {instance_name: x}\npeers: [{name: a}]",
		"duplicate peer":     "nntp: {instance_name: x}\npeers: [{name: a, address: 'h:1'}, {name: a, address: 'h:2'}]",
		"unknown key":        "nntp: {instance_name: x, colour: blue}",
		"tiny line limit":    "nntp: {instance_name: x, max_line_length: 10}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nntpchand.yaml")
	require.NoError(t, os.WriteFile(p, []byte(sample), 0o644))
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "node.example", c.NNTP.InstanceName)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
