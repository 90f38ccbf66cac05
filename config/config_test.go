package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnmarshalDefaults(t *testing.T) {
	cfg, err := Unmarshal([]byte(``))
	require.NoError(t, err)
	require.Equal(t, []string{"trunk"}, cfg.Vars["Trunk"])
	require.Equal(t, []string{"main"}, cfg.Vars["MapTrunkTo"])
	require.Len(t, cfg.Replace, 3)
}

func TestUnmarshalMapPaths(t *testing.T) {
	yamlDoc := `
map_paths:
  - path: "trunk"
    refname: "refs/heads/$MapTrunkTo"
  - path: "branches/*"
    refname: "refs/heads/$1"
`
	cfg, err := Unmarshal([]byte(yamlDoc))
	require.NoError(t, err)
	require.Len(t, cfg.MapPaths, 2)
	require.Equal(t, "refs/heads/$MapTrunkTo", cfg.MapPaths[0].Refname)
}

func TestUnmarshalRejectsUndeclaredVariable(t *testing.T) {
	yamlDoc := `
map_paths:
  - path: "trunk"
    refname: "refs/heads/$NoSuchVar"
`
	_, err := Unmarshal([]byte(yamlDoc))
	require.Error(t, err)
}

func TestEditMsgCompiles(t *testing.T) {
	yamlDoc := `
edit_msg:
  - match: "JIRA-(\\d+)"
    replace: "[$1]"
`
	cfg, err := Unmarshal([]byte(yamlDoc))
	require.NoError(t, err)
	require.NotNil(t, cfg.EditMsgs[0].Regexp())
}

func TestEditMsgBadRegexFails(t *testing.T) {
	yamlDoc := `
edit_msg:
  - match: "("
    replace: ""
`
	_, err := Unmarshal([]byte(yamlDoc))
	require.Error(t, err)
}
