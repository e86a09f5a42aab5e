package sources

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func aggregateTestdata(t *testing.T) *Set {
	t.Helper()
	set, err := Aggregate(filepath.Join("testdata", "lib"), filepath.Join("testdata", "contracts"))
	require.NoError(t, err)
	return set
}

func TestAggregate(t *testing.T) {
	set := aggregateTestdata(t)

	assert.Equal(t, []string{"Owned.sol", "Token.sol"}, set.FirstParty)
	assert.Contains(t, set.Files, "openzeppelin/math/SafeMath.sol")
	assert.Len(t, set.Files, 3)
	assert.NotContains(t, set.Files["Owned.sol"], "vendored", "contract root must shadow library root")
}

func TestAggregateMissingRoots(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.sol"), []byte("contract A {}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0644))

	set, err := Aggregate(filepath.Join(dir, "node_modules"), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"A.sol"}, set.FirstParty)
	assert.Len(t, set.Files, 1)

	_, err = Aggregate("", filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestFlattenGolden(t *testing.T) {
	set := aggregateTestdata(t)

	flat, err := Flatten(set.Files, "Token.sol", FlattenOptions{StripWhitespace: true})
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir(filepath.Join("testdata", "golden")), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "Token.sol", []byte(flat))
}

func TestFlattenWithoutStripping(t *testing.T) {
	set := aggregateTestdata(t)

	flat, err := Flatten(set.Files, "Owned.sol", FlattenOptions{})
	require.NoError(t, err)
	assert.Contains(t, flat, "contract Owned {   \n")
	assert.Contains(t, flat, "owner;\n\n\n    constructor")
}

func TestFlattenImportForms(t *testing.T) {
	files := map[string]string{
		"a/A.sol":  "pragma solidity ^0.4.24;\nimport {B} from \"../b/B.sol\";\nimport * as C from 'c/C.sol';\nimport \"d/D.sol\" as D;\ncontract A {}\n",
		"b/B.sol":  "pragma solidity ^0.4.24;\ncontract B {}\n",
		"c/C.sol":  "contract C {}\n",
		"d/D.sol":  "import \"../b/B.sol\";\ncontract D {}\n",
		"unused.s": "contract Unused {}\n",
	}

	assert.Equal(t, []string{"../b/B.sol", "c/C.sol", "d/D.sol"}, Imports(files["a/A.sol"]))

	flat, err := Flatten(files, "a/A.sol", FlattenOptions{StripWhitespace: true})
	require.NoError(t, err)
	assert.Equal(t, "pragma solidity ^0.4.24;\n\ncontract B {}\n\ncontract C {}\n\ncontract D {}\n\ncontract A {}\n", flat)
}

func TestFlattenCycle(t *testing.T) {
	files := map[string]string{
		"A.sol": "import \"./B.sol\";\ncontract A {}\n",
		"B.sol": "import \"./A.sol\";\ncontract B {}\n",
	}

	flat, err := Flatten(files, "A.sol", FlattenOptions{})
	require.NoError(t, err)
	assert.Equal(t, "contract B {}\n\ncontract A {}\n", flat)
}

func TestFlattenMissingImport(t *testing.T) {
	files := map[string]string{
		"A.sol": "import \"./Missing.sol\";\ncontract A {}\n",
	}

	_, err := Flatten(files, "A.sol", FlattenOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrImportNotFound))

	var importErr *ImportError
	require.True(t, errors.As(err, &importErr))
	assert.Equal(t, "A.sol", importErr.File)
	assert.Equal(t, "./Missing.sol", importErr.Import)

	_, err = Flatten(files, "Nope.sol", FlattenOptions{})
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFlattenAllAndSave(t *testing.T) {
	set := aggregateTestdata(t)

	units, err := FlattenAll(set, FlattenOptions{StripWhitespace: true})
	require.NoError(t, err)
	require.Len(t, units, 2)

	dir := filepath.Join(t.TempDir(), "flattened")
	require.NoError(t, os.MkdirAll(dir, 0755))
	stale := filepath.Join(dir, "Stale.sol")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	require.NoError(t, Save(dir, units))

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "save must clear previous output")

	content, err := os.ReadFile(filepath.Join(dir, "Token.sol"))
	require.NoError(t, err)
	assert.Equal(t, units["Token.sol"], string(content))
}
