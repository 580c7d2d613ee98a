package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromTextParsesNamedKeys(t *testing.T) {
	src := strings.NewReader(strings.Join([]string{
		"# comment",
		"; another comment style",
		"// and a third",
		"",
		"header_key = " + strings.Repeat("AB", 32),
		"key_area_key_application_00 = " + strings.Repeat("11", 16),
		"titlekek_00 = " + strings.Repeat("22", 16),
		"not a valid line",
		"bad_hex = zzzz",
	}, "\n"))

	ks, warnings := FromText(src)
	require.Len(t, warnings, 2)

	hk, err := ks.HeaderXTSPair()
	require.NoError(t, err)
	assert.Len(t, hk, 32)

	kak, err := ks.KeyAreaKey(KeyAreaApplication, 0)
	require.NoError(t, err)
	assert.Len(t, kak, 16)

	_, err = ks.KeyAreaKey(KeyAreaApplication, 5)
	assert.Error(t, err)

	tk, err := ks.TitleKek(0)
	require.NoError(t, err)
	assert.Len(t, tk, 16)
}

func TestFromTitleKeyTextLooksUpByRightsID(t *testing.T) {
	rightsID := strings.Repeat("ab", 16)
	src := strings.NewReader(rightsID + " = " + strings.Repeat("cd", 16))

	tk, warnings := FromTitleKeyText(src)
	require.Empty(t, warnings)

	key, err := tk.EncryptedTitleKey(rightsID)
	require.NoError(t, err)
	assert.Len(t, key, 16)

	_, err = tk.EncryptedTitleKey(strings.Repeat("00", 16))
	assert.Error(t, err)
}

func TestFromTitleKeyTextSkipsComments(t *testing.T) {
	rightsID := strings.Repeat("ab", 16)
	src := strings.NewReader(strings.Join([]string{
		"# comment",
		"; comment",
		"// comment",
		rightsID + " = " + strings.Repeat("cd", 16),
	}, "\n"))

	tk, warnings := FromTitleKeyText(src)
	require.Empty(t, warnings)

	_, err := tk.EncryptedTitleKey(rightsID)
	assert.NoError(t, err)
}

func TestIsCommentOrBlank(t *testing.T) {
	for _, line := range []string{"", "# x", "; x", "// x"} {
		assert.True(t, isCommentOrBlank(line), "expected %q to be treated as a comment/blank", line)
	}
	for _, line := range []string{"header_key = AB", "not_a_comment"} {
		assert.False(t, isCommentOrBlank(line), "expected %q not to be treated as a comment/blank", line)
	}
}
