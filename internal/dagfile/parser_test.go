package dagfile

import (
	"os"
	"strings"
	"testing"

	"github.com/makeflow/makeflow-engine/internal/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_LinearChain(t *testing.T) {
	src := "b: a\n\tcp a b\nc: b\n\tcp b c\n"
	g, err := New(Options{}).Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, g.Nodes, 2)

	assert.Equal(t, []string{"a"}, g.Nodes[0].Sources)
	assert.Equal(t, []string{"b"}, g.Nodes[0].Targets)
	assert.Equal(t, "cp a b", g.Nodes[0].Command)

	assert.Equal(t, []string{"b"}, g.Nodes[1].Sources)
	assert.Equal(t, []string{"c"}, g.Nodes[1].Targets)
}

func TestParse_CommentsAndBlankLines(t *testing.T) {
	src := "# a top comment\n\nb: a   # inline comment\n\tcp a b\n"
	g, err := New(Options{}).Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, []string{"a"}, g.Nodes[0].Sources)
}

func TestParse_EnvSubstitution(t *testing.T) {
	t.Setenv("SRC", "input.txt")
	src := "out: $SRC\n\tcp $SRC out\n"
	g, err := New(Options{}).Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"input.txt"}, g.Nodes[0].Sources)
	assert.Equal(t, "cp input.txt out", g.Nodes[0].Command)
}

func TestParse_AssignmentSetsEnv(t *testing.T) {
	os.Unsetenv("MY_VAR")
	src := "MY_VAR = hello\nout: \n\techo $MY_VAR\n"
	_, err := New(Options{}).Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "hello", os.Getenv("MY_VAR"))
}

func TestParse_LocalPrefix(t *testing.T) {
	src := "out: in\n\tLOCAL cp in out\n"
	g, err := New(Options{}).Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.True(t, g.Nodes[0].Local)
	assert.Equal(t, "cp in out", g.Nodes[0].Command)
}

func TestParse_DuplicateTargetIsFatal(t *testing.T) {
	src := "x: a\n\tcp a x\nx: b\n\tcp b x\n"
	_, err := New(Options{}).Parse(strings.NewReader(src))
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestParse_RuleWithoutCommandIsFatal(t *testing.T) {
	src := "x: a\n"
	_, err := New(Options{}).Parse(strings.NewReader(src))
	require.Error(t, err)
}

func TestParse_NoColonIsSyntaxError(t *testing.T) {
	src := "this is not a rule or assignment\n"
	_, err := New(Options{}).Parse(strings.NewReader(src))
	require.Error(t, err)
}

func TestParse_TranslatesSlashedFilenames(t *testing.T) {
	tr := translate.New()
	linked := map[string]string{}
	p := New(Options{
		Translator:          tr,
		Sandboxes:           true,
		MaterializeSymlinks: true,
		Link: func(old, new string) error {
			linked[new] = old
			return nil
		},
	})

	src := "out: /data/in.txt /usr/bin/cp\n\t/usr/bin/cp /data/in.txt out\n"
	g, err := p.Parse(strings.NewReader(src))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"_data_in.txt", "_usr_bin_cp"}, g.Nodes[0].Sources)
	assert.Equal(t, "/data/in.txt", linked["_data_in.txt"])
	assert.Contains(t, g.Nodes[0].Command, "./_usr_bin_cp")
	assert.Contains(t, g.Nodes[0].Command, "_data_in.txt")
}

func TestParse_GlobTargetExpansion(t *testing.T) {
	p := New(Options{Glob: func(pattern string) ([]string, error) {
		return []string{"a.csv", "b.csv"}, nil
	}})

	src := "glob:data/*.csv: src\n\tcp src data/\n"
	g, err := p.Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.csv", "b.csv"}, g.Nodes[0].Targets)
}

func TestParse_GlobMatchingNothingIsFatal(t *testing.T) {
	p := New(Options{Glob: func(pattern string) ([]string, error) { return nil, nil }})
	src := "glob:nothing/*.csv: src\n\tcp src nothing/\n"
	_, err := p.Parse(strings.NewReader(src))
	require.Error(t, err)
}

func TestTranslateCommand_RedirectionPreserved(t *testing.T) {
	forward := map[string]string{"/bin/sort": "_bin_sort", "/data/in": "_data_in"}
	got := translateCommand(forward, "/bin/sort < /data/in > out")
	assert.Contains(t, got, "./_bin_sort")
	assert.Contains(t, got, "_data_in")
}

func TestTranslateCommand_OnlyFirstExecutableGetsDotSlash(t *testing.T) {
	forward := map[string]string{"/bin/cp": "_bin_cp", "/data/a": "_data_a"}
	got := translateCommand(forward, "/bin/cp /data/a /data/a")
	assert.Equal(t, "./_bin_cp _data_a _data_a", got)
}

func TestExpandBackslashCodes(t *testing.T) {
	assert.Equal(t, "a\tb\nc", expandBackslashCodes(`a\tb\nc`))
	assert.Equal(t, `a\b`, expandBackslashCodes(`a\\b`))
}
