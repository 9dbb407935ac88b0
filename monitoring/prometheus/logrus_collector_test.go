package prometheus

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/zkmpc/ceremonyd/testing/assert"
	"github.com/zkmpc/ceremonyd/testing/require"
)

func TestLogrusCollector_CountsByLevelAndPrefix(t *testing.T) {
	hook := NewLogrusCollector()

	entry := &logrus.Entry{
		Logger: logrus.New(),
		Level:  logrus.WarnLevel,
		Data:   logrus.Fields{"prefix": "scheduler"},
	}
	require.NoError(t, hook.Fire(entry))

	noPrefix := &logrus.Entry{Logger: logrus.New(), Level: logrus.ErrorLevel, Data: logrus.Fields{}}
	require.NoError(t, hook.Fire(noPrefix))

	badPrefix := &logrus.Entry{
		Logger: logrus.New(),
		Level:  logrus.InfoLevel,
		Data:   logrus.Fields{"prefix": 42},
	}
	assert.NotNil(t, hook.Fire(badPrefix))

	levels := hook.Levels()
	assert.Equal(t, 3, len(levels))
}
