package main

import (
	"testing"
	"time"

	"github.com/stemsi/exstem-oral/internal/recording"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootRunsExamByDefault(t *testing.T) {
	root := rootCmd()
	grace := root.Flags().Lookup("grace")
	require.NotNil(t, grace)
	assert.Equal(t, "500ms", grace.DefValue)
	assert.Contains(t, grace.Usage, "before the exam is submitted")
	assert.NotNil(t, root.Flags().Lookup("demo"))
}

func TestViperReadsEnvironment(t *testing.T) {
	t.Setenv("EXSTEM_GRACE", "2s")
	t.Setenv("EXSTEM_UPLOAD_CONCURRENCY", "5")
	t.Setenv("EXSTEM_MIC_COMMAND", "sox -q -d -t raw -")

	cmd := runCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	v := viperForCmd(cmd)
	assert.Equal(t, 2*time.Second, v.GetDuration("grace"))
	assert.Equal(t, 5, v.GetInt("upload-concurrency"))

	mic, err := microphone(v)
	require.NoError(t, err)
	cm := mic.(*recording.CommandMicrophone)
	assert.Equal(t, "sox", cm.Path)
	assert.Equal(t, []string{"-q", "-d", "-t", "raw", "-"}, cm.Args)
	assert.Equal(t, recording.DefaultFormat, cm.Format)
}

func TestMicrophoneRejectsBadFormat(t *testing.T) {
	t.Setenv("EXSTEM_SAMPLE_RATE", "0")
	cmd := runCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	_, err := microphone(viperForCmd(cmd))
	assert.Error(t, err)
}
