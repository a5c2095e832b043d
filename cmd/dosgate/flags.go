package main

import (
	"fmt"
	"io"
)

func printUsage(w io.Writer) {
	if w == nil {
		return
	}
	fmt.Fprintln(w, "Usage")
	fmt.Fprintln(w, "  dosgate [print_config] [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Flags")
	fmt.Fprintln(w, "  config string config file path")
	fmt.Fprintln(w, "  id_type string identity policy (remote_address, remote_address_port, remote_port, connection_id)")
	fmt.Fprintln(w, "  max_rps int max requests per second per identity")
	fmt.Fprintln(w, "  max_trackers int max tracked identities")
	fmt.Fprintln(w, "  sample_period_ms int estimator sample period in ms")
	fmt.Fprintln(w, "  alpha float estimator smoothing factor")
	fmt.Fprintln(w, "  reject_mode string rejection mode (delayed or immediate)")
	fmt.Fprintln(w, "  delay_ms int delayed rejection hold in ms")
	fmt.Fprintln(w, "  max_delay_queue int max delayed rejections held")
	fmt.Fprintln(w, "  reject_status int rejection HTTP status")
	fmt.Fprintln(w, "  http_addr string http listen address")
	fmt.Fprintln(w, "  upstream string upstream url to proxy")
	fmt.Fprintln(w, "  log_level string log level")
	fmt.Fprintln(w, "  enable_prom bool serve prometheus metrics")
	fmt.Fprintln(w, "  redis_addr string redis address for the stats sink")
}
