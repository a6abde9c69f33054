package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thephm/sms-backup-md/internal/importer"
	"github.com/thephm/sms-backup-md/internal/message"
)

const testConfig = `
me: {slug: me, name: Me, mobile: "+15555550100"}
people:
  - {slug: alice, name: Alice, mobile: "+12895551212"}
  - {slug: bob, name: Bob, mobile: "+14165551313"}
source_folder: %s
log: {level: error}
`

type env struct {
	source string
	data   string
}

func setup(t *testing.T) env {
	t.Helper()
	root := t.TempDir()
	e := env{
		source: filepath.Join(root, "exports"),
		data:   filepath.Join(root, "data"),
	}
	configDir := filepath.Join(root, "config")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, os.MkdirAll(e.source, 0755))

	cfg := bytes.ReplaceAll([]byte(testConfig), []byte("%s"), []byte(e.source))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), cfg, 0644))

	t.Setenv("SMSMD_CONFIG_DIR", configDir)
	t.Setenv("SMSMD_DATA_DIR", e.data)
	return e
}

func (e env) writeExport(t *testing.T, name, body string) {
	t.Helper()
	doc := "<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>\n<smses>\n" + body + "\n</smses>\n"
	require.NoError(t, os.WriteFile(filepath.Join(e.source, name), []byte(doc), 0644))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sms-backup-md dev")

	out, err = run(t, "version", "--json")
	require.NoError(t, err)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "dev", v["version"])
}

func TestImportAndListMessages(t *testing.T) {
	e := setup(t)
	img := base64.StdEncoding.EncodeToString([]byte("jpeg bytes"))
	e.writeExport(t, "sms.xml", `
<sms address="+12895551212" date="1700000000000" type="1" body="hi" m_id="1" />
<sms address="+12895551212" date="1700000060000" type="2" body="hey" m_id="2" />
<sms address="555" date="1700000090000" type="1" body="short code" />
<mms date="1700000120000" m_id="3">
  <parts>
    <part ct="application/smil" cl="smil.xml" text="&lt;smil/&gt;" />
    <part ct="image/jpeg" cl="photo.jpg" data="`+img+`" />
    <part ct="text/plain" cl="text_0.txt" text="look" />
  </parts>
  <addrs>
    <addr address="+12895551212" type="137" />
    <addr address="+15555550100" type="151" />
  </addrs>
</mms>`)

	out, err := run(t, "import", "sms.xml", "--json")
	require.NoError(t, err)

	var res struct {
		OK                 bool   `json:"ok"`
		Records            int    `json:"records"`
		Accepted           int    `json:"accepted"`
		Rejected           int    `json:"rejected"`
		AttachmentsWritten int    `json:"attachments_written"`
		StorePath          string `json:"store_path"`
		Created            int    `json:"created"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.OK)
	assert.Equal(t, 4, res.Records)
	assert.Equal(t, 3, res.Accepted)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.AttachmentsWritten)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, filepath.Join(e.data, "messages.db"), res.StorePath)

	data, err := os.ReadFile(filepath.Join(e.source, "attachments", "photo.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	out, err = run(t, "messages", "--json")
	require.NoError(t, err)
	var msgs []message.Message
	require.NoError(t, json.Unmarshal([]byte(out), &msgs))
	require.Len(t, msgs, 3)
	assert.Equal(t, "alice", msgs[0].FromSlug)
	assert.Equal(t, []string{"alice"}, msgs[1].ToSlugs)
	assert.Equal(t, "look", msgs[2].Body)
	require.Len(t, msgs[2].Attachments, 1)
	assert.Equal(t, "photo.jpg", msgs[2].Attachments[0].ID)

	out, err = run(t, "messages", "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "alice -> me: look (1 attachments)")
	assert.NotContains(t, out, "hey")
}

func TestImportTwiceUpdates(t *testing.T) {
	e := setup(t)
	e.writeExport(t, "a.xml", `<sms address="+14165551313" date="1700000000000" type="1" body="first" m_id="9" />`)
	e.writeExport(t, "b.xml", `<sms address="+14165551313" date="1700000000000" type="1" body="second" m_id="9" />`)

	_, err := run(t, "import", "a.xml")
	require.NoError(t, err)
	out, err := run(t, "import", "b.xml")
	require.NoError(t, err)
	assert.Contains(t, out, "(0 new, 1 updated)")

	out, err = run(t, "messages")
	require.NoError(t, err)
	assert.Contains(t, out, "bob -> me: second")
	assert.NotContains(t, out, "first")
}

func TestImportNoSave(t *testing.T) {
	e := setup(t)
	e.writeExport(t, "sms.xml", `<sms address="+12895551212" date="1700000000000" type="1" body="hi" />`)

	out, err := run(t, "import", filepath.Join(e.source, "sms.xml"), "--no-save")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 of 1 records")
	assert.NotContains(t, out, "saved to")

	_, err = os.Stat(filepath.Join(e.data, "messages.db"))
	assert.True(t, os.IsNotExist(err))

	_, err = run(t, "messages")
	assert.Error(t, err)
}

func TestImportMissingFile(t *testing.T) {
	setup(t)
	out, err := run(t, "import", "nope.xml", "--json")
	require.Error(t, err)
	assert.ErrorIs(t, err, importer.ErrFileNotFound)
	assert.Contains(t, out, `"ok": false`)
}

func TestImportWithoutConfig(t *testing.T) {
	t.Setenv("SMSMD_CONFIG_DIR", t.TempDir())
	_, err := run(t, "import", "sms.xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no config file")
}

func TestPeople(t *testing.T) {
	setup(t)
	out, err := run(t, "people")
	require.NoError(t, err)
	assert.Contains(t, out, "SLUG")
	assert.Contains(t, out, "alice")

	out, err = run(t, "people", "--json")
	require.NoError(t, err)
	var people []struct {
		Slug string `json:"slug"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &people))
	require.Len(t, people, 3)
	assert.Equal(t, "me", people[0].Slug)
}

func TestSync(t *testing.T) {
	e := setup(t)
	e.writeExport(t, "sms-1.xml", `<sms address="+12895551212" date="1700000000000" type="1" body="old" m_id="5" />`)
	e.writeExport(t, "sms-2.xml", `<sms address="+12895551212" date="1700000000000" type="1" body="new" m_id="5" />`)

	out, err := run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "sms-2.xml: 1 of 1 accepted, 1 replaced")
	assert.Contains(t, out, "Saved 1 messages")

	out, err = run(t, "messages")
	require.NoError(t, err)
	assert.Contains(t, out, "alice -> me: new")
}

func TestSyncReportsBadExport(t *testing.T) {
	e := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.source, "broken.xml"), []byte("<smses><sms"), 0644))

	out, err := run(t, "sync", "--no-save", "--json")
	require.Error(t, err)
	assert.Contains(t, out, `"success": false`)
}

func TestImportTwiceWithoutMessageID(t *testing.T) {
	e := setup(t)
	e.writeExport(t, "sms.xml", `<sms address="+12895551212" date="1700000000000" type="1" body="hi" />`)

	_, err := run(t, "import", "sms.xml")
	require.NoError(t, err)
	out, err := run(t, "import", "sms.xml")
	require.NoError(t, err)
	assert.Contains(t, out, "(0 new, 1 updated)")

	out, err = run(t, "messages")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "alice -> me: hi"))
}

func TestSeparateImportsMatchSync(t *testing.T) {
	png := base64.StdEncoding.EncodeToString([]byte("png bytes"))
	mms := `
<mms date="1700000000000" m_id="d1">
  <parts><part ct="image/png" cl="pic.png" data="` + png + `" /></parts>
  <addrs>
    <addr address="+12895551212" type="137" />
    <addr address="+15555550100" type="151" />
    <addr address="+14165551313" type="151" />
  </addrs>
</mms>`
	sms := `<sms address="+12895551212" date="1700000000000" type="1" body="hello" m_id="d1" />`

	outputs := map[string]string{}
	for _, mode := range []string{"import", "sync"} {
		e := setup(t)
		e.writeExport(t, "a.xml", mms)
		e.writeExport(t, "b.xml", sms)

		if mode == "import" {
			_, err := run(t, "import", "a.xml")
			require.NoError(t, err)
			_, err = run(t, "import", "b.xml")
			require.NoError(t, err)
		} else {
			_, err := run(t, "sync")
			require.NoError(t, err)
		}

		out, err := run(t, "messages")
		require.NoError(t, err)
		assert.Contains(t, out, "alice -> me [group-", mode)
		assert.Contains(t, out, ": hello (1 attachments)", mode)
		outputs[mode] = out
	}
	assert.Equal(t, outputs["sync"], outputs["import"])
}
