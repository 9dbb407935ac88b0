package cmd

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "cmd")

// ConfirmAction uses the passed in actionText as the confirmation text displayed in the terminal.
// The user must enter Y or N to indicate whether they approve the action or not.
func ConfirmAction(actionText string, deniedText string) (bool, error) {
	var confirmed bool
	reader := bufio.NewReader(os.Stdin)
	log.Warn(actionText)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return false, errors.Wrap(err, "could not read user input")
		}
		trimmedLine := strings.TrimSpace(line)

		if strings.EqualFold(trimmedLine, "y") {
			confirmed = true
			break
		} else if strings.EqualFold(trimmedLine, "n") {
			log.Info(deniedText)
			break
		} else {
			log.Error("Invalid option of " + trimmedLine + ", please enter Y or N")
		}
	}

	return confirmed, nil
}
