package version

import "fmt"

// Service: имя сервиса в логах, User-Agent и health-ответах.
const Service = "crewshop-order-service"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

func GetVersion() string { return version }

func GetCommit() string { return commit }

func GetDate() string { return date }

// UserAgent для исходящих запросов к платёжному провайдеру.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", Service, version)
}

func String() string {
	return fmt.Sprintf("service=%s version=%s commit=%s date=%s", Service, version, commit, date)
}
