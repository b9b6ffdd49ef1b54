package catalog

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const msCatalog = `{
  "{00001}": {"substitutions": ["Ahmad", "Siti", "Kumar"], "translations": ["Ahmad", "Siti", "Kumar"]},
  "<bank_name_local>": {"substitutions": ["Maybank", "CIMB", "Public Bank"]},
  "police_station": "Balai Polis Dang Wangi",
  "amount": ["RM500", "RM1,200"]
}`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "placeholders.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseAcceptsAllEntryShapes(t *testing.T) {
	c, err := Parse("ms-my", []byte(msCatalog))
	require.NoError(t, err)

	assert.Equal(t, []string{"00001", "amount", "bank_name_local", "police_station"}, c.Tags())

	vals, err := c.Lookup("police_station")
	require.NoError(t, err)
	assert.Equal(t, []string{"Balai Polis Dang Wangi"}, vals)

	vals, err = c.Lookup("<amount>")
	require.NoError(t, err)
	assert.Len(t, vals, 2)
}

func TestLookupIsIdempotentAndReturnsCopy(t *testing.T) {
	c, err := Parse("ms-my", []byte(msCatalog))
	require.NoError(t, err)

	first, err := c.Lookup("{00001}")
	require.NoError(t, err)
	first[0] = "mutated"

	second, err := c.Lookup("00001")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ahmad", "Siti", "Kumar"}, second)
}

func TestLookupMissingTag(t *testing.T) {
	c, err := Parse("ms-my", []byte(msCatalog))
	require.NoError(t, err)

	_, err = c.Lookup("<insurance_company>")
	var missing *MissingPlaceholderError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "ms-my", missing.Locale)
	assert.Equal(t, "insurance_company", missing.Tag)
}

func TestLoadFailsFastOnRequiredTag(t *testing.T) {
	path := writeCatalog(t, msCatalog)

	_, err := Load("ms-my", path, []string{"bank_name_local", "insurance_company"})
	var missing *MissingPlaceholderError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "insurance_company", missing.Tag)

	c, err := Load("ms-my", path, []string{"bank_name_local"})
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())
}

func TestResolveDeterministicUnderSeed(t *testing.T) {
	c, err := Parse("ms-my", []byte(msCatalog))
	require.NoError(t, err)

	draw := func() []string {
		rng := rand.New(rand.NewPCG(42, 42))
		var out []string
		for i := 0; i < 10; i++ {
			v, err := c.Resolve("bank_name_local", rng)
			require.NoError(t, err)
			out = append(out, v)
		}
		return out
	}
	assert.Equal(t, draw(), draw())
}

func TestStoreLoadsOncePerLocale(t *testing.T) {
	path := writeCatalog(t, msCatalog)
	s := NewStore(map[string]string{"MS-MY": path}, nil)

	a, err := s.Get("ms-my")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	b, err := s.Get("ms-MY")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = s.Get("en-sg")
	assert.Error(t, err)

	v1, err := s.Resolve("ms-my", "bank_name_local", rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)
	v2, err := s.Resolve("ms-my", "bank_name_local", rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Contains(t, []string{"Maybank", "CIMB", "Public Bank"}, v1)
}

func TestExtractAndSubstitute(t *testing.T) {
	text := "Hello {00001}, this is <bank_name_local>. {00001}, your account at <bank_name_local> is frozen."

	assert.Equal(t, []string{"00001", "bank_name_local"}, Extract(text))

	out := Substitute(text, map[string]string{"00001": "Siti", "bank_name_local": "CIMB"})
	assert.Equal(t, "Hello Siti, this is CIMB. Siti, your account at CIMB is frozen.", out)
	assert.Empty(t, Unresolved(out))

	partial := Substitute(text, map[string]string{"00001": "Siti"})
	assert.Equal(t, []string{"bank_name_local"}, Unresolved(partial))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "00001", Normalize("{00001}"))
	assert.Equal(t, "bank", Normalize(" <bank> "))
	assert.Equal(t, "plain", Normalize("plain"))
}
