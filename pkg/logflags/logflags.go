package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var pagetable = false
var symbolizer = false
var config = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	} else {
		logger.Logger.Out = os.Stderr
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Pagetable returns true if the address decomposer should log.
func Pagetable() bool {
	return pagetable
}

// PagetableLogger returns a logger for the pagetable and compose commands.
func PagetableLogger() Logger {
	return makeFlaggableLogger(pagetable, Fields{"layer": "pagetable"})
}

// Symbolizer returns true if every symbolizer invocation should be logged.
func Symbolizer() bool {
	return symbolizer
}

// SymbolizerLogger returns a logger for the symbolize package.
func SymbolizerLogger() Logger {
	return makeFlaggableLogger(symbolizer, Fields{"layer": "symbolizer"})
}

// Config returns true if loading of the configuration file should be logged.
func Config() bool {
	return config
}

// ConfigLogger returns a logger for the config package.
func ConfigLogger() Logger {
	return makeFlaggableLogger(config, Fields{"layer": "config"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	pagetable, symbolizer, config = false, false, false
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "kdbg-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %w", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "symbolizer"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "pagetable":
			pagetable = true
		case "symbolizer":
			symbolizer = true
		case "config":
			config = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'kdbg help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output. Loggers created afterwards write to
// standard error.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}
