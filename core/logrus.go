package core

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

type MyLog struct {
}

// 颜色
const (
	red    = 31
	yellow = 33
	blue   = 36
	gray   = 37
)

func (MyLog) Format(entry *logrus.Entry) ([]byte, error) {
	var levelColor int
	switch entry.Level {
	case logrus.DebugLevel, logrus.TraceLevel:
		levelColor = gray
	case logrus.WarnLevel:
		levelColor = yellow
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		levelColor = red
	default:
		levelColor = blue
	}
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}
	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	msg := entry.Message
	for k, v := range entry.Data {
		msg += fmt.Sprintf(" %s=%v", k, v)
	}
	if entry.HasCaller() {
		fileVal := fmt.Sprintf("%s:%d", path.Base(entry.Caller.File), entry.Caller.Line)
		fmt.Fprintf(b, "[%s] \x1b[%dm[%s]\x1b[0m [%s] \x1b[%dm %s \x1b[0m\n", timestamp, levelColor, entry.Level, fileVal, levelColor, msg)
	} else {
		fmt.Fprintf(b, "[%s] \x1b[%dm[%s]\x1b[0m \x1b[%dm %s \x1b[0m\n", timestamp, levelColor, entry.Level, levelColor, msg)
	}
	return b.Bytes(), nil
}

// InitLogger logDir 为空时只输出到终端
func InitLogger(debug bool, logDir string) {
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
	logrus.SetReportCaller(true)
	logrus.SetFormatter(MyLog{})
	if logDir != "" {
		logrus.AddHook(&Myhook{logPath: logDir})
	}
}

// Myhook 按天切分日志，错误单独放一个文件
type Myhook struct {
	file    *os.File
	errFile *os.File
	date    string
	logPath string
	mu      sync.Mutex
}

func (hook *Myhook) Fire(entry *logrus.Entry) error {
	hook.mu.Lock()
	defer hook.mu.Unlock()

	msg, err := entry.String()
	if err != nil {
		return err
	}
	date := entry.Time.Format("2006-01-02")
	if hook.date != date {
		if err := hook.rotateFiles(date); err != nil {
			return err
		}
		hook.date = date
	}
	if entry.Level <= logrus.ErrorLevel {
		hook.errFile.Write([]byte(msg))
	}
	hook.file.Write([]byte(msg))
	return nil
}

func (hook *Myhook) rotateFiles(date string) error {
	if hook.file != nil {
		hook.file.Close()
		hook.errFile.Close()
		hook.file, hook.errFile = nil, nil
	}

	logDir := filepath.Join(hook.logPath, date)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(filepath.Join(logDir, "info.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	errFile, err := os.OpenFile(filepath.Join(logDir, "err.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		file.Close()
		return err
	}
	hook.file, hook.errFile = file, errFile
	return nil
}

// 决定 哪些级别日志走 Fire 方法
func (*Myhook) Levels() []logrus.Level {
	return logrus.AllLevels
}
