package utils

import (
	"hash/fnv"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var charNotFitToKube = regexp.MustCompile("[^-a-z0-9]")
var charNotFitToLabel = regexp.MustCompile("[^-a-zA-Z0-9_.]")
var edgeNotFitToLabel = regexp.MustCompile("^[^a-zA-Z0-9]+|[^a-zA-Z0-9]+$")

func LogExit(status int) {
	logrus.Infof("Exiting with status: %v", status)
	os.Exit(status)
}

// SetupLogging applies level (or LOG_LEVEL when empty) to the standard logger.
func SetupLogging(level string) {
	if level == "" {
		level = GetLogLevel()
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level == "" {
		logrus.SetLevel(logrus.InfoLevel)
		return
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warningf("Unknown log level %q, using info", level)
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

func JoinMaps(dest map[string]string, srcs ...map[string]string) map[string]string {
	for _, src := range srcs {
		for k, v := range src {
			dest[k] = v
		}
	}
	return dest
}

func Hash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return strconv.FormatUint(uint64(h.Sum32()), 16)
}

func KubeEncode(v string, lower bool, regexp *regexp.Regexp, lengthLimit int) string {
	res := v
	if lower {
		res = strings.ToLower(res)
	}
	res = regexp.ReplaceAllString(res, "-")

	h := Hash(v)
	hlen := len(h) + 1

	if len(res) <= lengthLimit {
		return res
	}
	edge := lengthLimit - hlen
	return res[:edge] + "-" + h
}

// KubeDeploymentEncode produces a DNS-1035 label: lower case, starting with
// a letter and ending with an alphanumeric character.
func KubeDeploymentEncode(v string) string {
	res := strings.Trim(KubeEncode(v, true, charNotFitToKube, 63), "-")
	if res == "" || res[0] < 'a' || res[0] > 'z' {
		res = KubeEncode("m-"+res, true, charNotFitToKube, 63)
	}
	return strings.TrimRight(res, "-")
}

// KubeLabelEncode produces a valid label value. Empty input stays empty.
func KubeLabelEncode(v string) string {
	res := KubeEncode(v, false, charNotFitToLabel, 63)
	return edgeNotFitToLabel.ReplaceAllString(res, "")
}
