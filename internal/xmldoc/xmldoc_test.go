package xmldoc

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStripsSystemDoctype(t *testing.T) {
	root, err := Parse(`<!DOCTYPE report SYSTEM "report.dtd">
<report><score>700</score></report>`)
	require.NoError(t, err)
	assert.Equal(t, "report", Name(root))
	assert.Equal(t, "700", InnerText(root))
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse(`<report><score>700</report>`)
	assert.Error(t, err)

	_, err = Parse(`just words`)
	assert.ErrorIs(t, err, ErrNoRoot)
}

func TestParsePromotesEmbeddedXML(t *testing.T) {
	root, err := Parse(`<envelope><payload>&lt;inner a="1"&gt;&lt;v&gt;2&lt;/v&gt;&lt;/inner&gt;</payload><note>&lt;html&gt;&lt;b&gt;x&lt;/b&gt;&lt;/html&gt;</note></envelope>`)
	require.NoError(t, err)

	payload := root.SelectElement("payload")
	require.NotNil(t, payload)
	inner := payload.SelectElement("inner")
	require.NotNil(t, inner)
	assert.Equal(t, "1", inner.SelectAttrValue("a", ""))
	assert.Equal(t, "2", InnerText(inner))

	note := root.SelectElement("note")
	require.NotNil(t, note)
	assert.False(t, HasNested(note), "html stays text")
}

func TestNullAndEmpty(t *testing.T) {
	root, err := Parse(`<r><a nil="true"/><b>  </b><c>x</c></r>`)
	require.NoError(t, err)

	a, b, c := root.SelectElement("a"), root.SelectElement("b"), root.SelectElement("c")
	assert.True(t, IsNull(a))
	assert.False(t, IsEmpty(a))
	assert.True(t, IsEmpty(b))
	assert.False(t, IsEmpty(c))
}

func TestAttributesSkipStructural(t *testing.T) {
	root, err := Parse(`<r xmlns="urn:x" xmlns:q="urn:q" count="2" nil="false" id="7" q:kind="k"/>`)
	require.NoError(t, err)

	var keys []string
	for _, a := range Attributes(root) {
		keys = append(keys, a.FullKey())
	}
	assert.Equal(t, []string{"id", "q:kind"}, keys)
}

func TestNodesIncludeText(t *testing.T) {
	root, err := Parse(`<item>widget<size>3</size>
	</item>`)
	require.NoError(t, err)

	nodes := Nodes(root)
	require.Len(t, nodes, 2)
	assert.Equal(t, TextName, nodes[0].Name())
	assert.Equal(t, "widget", nodes[0].Text)
	assert.Equal(t, "size", nodes[1].Name())
}

func TestPluralHeuristic(t *testing.T) {
	tests := []struct {
		xml  string
		want bool
	}{
		{`<order><item>a</item><item>b</item></order>`, true},
		{`<items><item>a</item></items>`, true},
		{`<categories><category>a</category></categories>`, true},
		{`<person><name>a</name><age>3</age></person>`, false},
		{`<children><child>a</child></children>`, false},
		{`<leaf>text</leaf>`, false},
	}

	policy := PluralHeuristic{}
	for _, tt := range tests {
		root, err := Parse(tt.xml)
		require.NoError(t, err)
		assert.Equal(t, tt.want, policy.IsList(root), tt.xml)
	}
}

func TestListPolicyFunc(t *testing.T) {
	root, err := Parse(`<people><person/></people>`)
	require.NoError(t, err)

	always := ListPolicyFunc(func(*etree.Element) bool { return true })
	assert.True(t, always.IsList(root))
}
