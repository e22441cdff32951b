// Package logging writes single-line, component tagged log records through
// the standard logger: "[CHAT] appended message session_id=... order=3".
package logging

import (
	"fmt"
	"log"
	"strings"
)

func Info(component, msg string, kv ...any) {
	write(component, "", msg, kv)
}

func Warn(component, msg string, kv ...any) {
	write(component, "WARN ", msg, kv)
}

func Error(component, msg string, kv ...any) {
	write(component, "ERROR ", msg, kv)
}

func write(component, level, msg string, kv []any) {
	log.Printf("[%s] %s%s%s", strings.ToUpper(component), level, msg, fields(kv))
}

func fields(kv []any) string {
	if len(kv) == 0 {
		return ""
	}
	if len(kv)%2 != 0 {
		kv = append(kv, "(missing)")
	}
	var b strings.Builder
	for i := 0; i < len(kv); i += 2 {
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(fmt.Sprint(kv[i])))
		b.WriteString("=")
		b.WriteString(value(kv[i+1]))
	}
	return b.String()
}

func value(v any) string {
	if err, ok := v.(error); ok && err != nil {
		v = err.Error()
	}
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	s = strings.NewReplacer("\n", " ", "\t", " ").Replace(s)
	if strings.ContainsRune(s, ' ') {
		return fmt.Sprintf("%q", s)
	}
	return s
}
