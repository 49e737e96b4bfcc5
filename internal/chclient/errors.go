package chclient

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/mrk-andreev/chprobe/internal/probe"
)

// httpException finds the server's exception text in an HTTP error body,
// e.g. "clickhouse [execute]:: 500 code: Code: 452. DB::Exception: ...".
var httpException = regexp.MustCompile(`(?s)Code: (\d+)\. (DB::Exception: .*)`)

// classify turns server exceptions into *probe.ServerError and leaves every
// other error as it is.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ex *clickhouse.Exception
	if errors.As(err, &ex) {
		return &probe.ServerError{
			Code:    ex.Code,
			Message: exceptionText(ex.Code, ex.Name, ex.Message),
		}
	}
	if m := httpException.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.ParseInt(m[1], 10, 32)
		return &probe.ServerError{
			Code:    int32(code),
			Message: strings.TrimSpace("Code: " + m[1] + ". " + m[2]),
		}
	}
	return err
}

// exceptionText renders a native exception the way clickhouse-client
// prints it. The native packet carries the class name ("DB::Exception")
// separately from the message.
func exceptionText(code int32, name, msg string) string {
	if name == "" {
		name = "DB::Exception"
	}
	return fmt.Sprintf("Code: %d. %s: %s", code, name, msg)
}
