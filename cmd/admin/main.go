// The admin binary is the operator's command-line surface: list and
// check proxies, inspect and toggle tasks, and print a status snapshot.
//
// Exit codes: 0 success, 1 usage error, 2 runtime failure.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/vhz-mon/marketwatch/internal/config"
	"github.com/vhz-mon/marketwatch/internal/model"
	"github.com/vhz-mon/marketwatch/internal/proxymgr"
	"github.com/vhz-mon/marketwatch/internal/store"
	"github.com/vhz-mon/marketwatch/pkg/logging"
)

const usage = `usage: admin <command> [args]

commands:
  proxy list                 list all proxies
  proxy check                list currently leasable proxies
  proxy add <endpoint>       register a new proxy
  proxy enable <id>          re-enable a proxy
  proxy disable <id>         disable a proxy
  proxy unblock <id>         clear a proxy's rate-limit block
  task list                  list all tasks
  task show <id>             show one task and its found items
  task create                create a task (see task create -h)
  task activate <id>         activate a task
  task deactivate <id>       deactivate a task
  task delete <id>           delete a task
  status                     print a status snapshot
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}

	var cfg config.AdminProcessConfig
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	logger := logging.Init("warn")

	st, err := store.Open(cfg.Store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	defer st.Close()

	ctx := context.Background()
	sess, err := st.NewSession(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	defer sess.Close()

	switch args[0] {
	case "proxy":
		if len(args) < 2 {
			fmt.Fprint(os.Stderr, usage)
			return 1
		}
		switch args[1] {
		case "list":
			return proxyList(sess)
		case "check":
			return proxyCheck(sess)
		case "add":
			if len(args) < 3 {
				fmt.Fprint(os.Stderr, usage)
				return 1
			}
			return proxyAdd(sess, args[2])
		case "enable", "disable", "unblock":
			if len(args) < 3 {
				fmt.Fprint(os.Stderr, usage)
				return 1
			}
			id, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "admin: invalid proxy id %q\n", args[2])
				return 1
			}
			switch args[1] {
			case "enable":
				return proxySetActive(sess, id, true)
			case "disable":
				return proxySetActive(sess, id, false)
			case "unblock":
				return proxyUnblock(sess, id)
			}
		}
	case "task":
		if len(args) < 2 {
			fmt.Fprint(os.Stderr, usage)
			return 1
		}
		switch args[1] {
		case "list":
			return taskList(sess)
		case "create":
			return taskCreate(sess, args[2:])
		case "show", "activate", "deactivate", "delete":
			if len(args) < 3 {
				fmt.Fprint(os.Stderr, usage)
				return 1
			}
			id, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "admin: invalid task id %q\n", args[2])
				return 1
			}
			switch args[1] {
			case "show":
				return taskShow(sess, id)
			case "activate":
				return taskSetActive(sess, id, true)
			case "deactivate":
				return taskSetActive(sess, id, false)
			case "delete":
				return taskDelete(sess, id)
			}
		}
	case "status":
		proxies := proxymgr.New(proxymgr.WrapStore(st), cfg.Proxy, logger)
		defer proxies.Close()
		return status(ctx, st, sess, proxies)
	}

	fmt.Fprint(os.Stderr, usage)
	return 1
}

func proxyList(sess *store.Session) int {
	proxies, err := sess.ListProxies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENDPOINT\tACTIVE\tBLOCKED UNTIL\tOK\tFAIL\tLAST USED")
	for _, p := range proxies {
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%d\t%d\t%s\n",
			p.ID, p.Endpoint, p.IsActive, fmtTime(p.BlockedUntil), p.Successes, p.Failures, fmtTime(p.LastUsedAt))
	}
	w.Flush()
	return 0
}

func proxyCheck(sess *store.Session) int {
	proxies, err := sess.ListLeasableProxies(time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	for _, p := range proxies {
		fmt.Printf("%d\t%s\n", p.ID, p.Endpoint)
	}
	fmt.Printf("%d leasable\n", len(proxies))
	return 0
}

func proxyAdd(sess *store.Session, endpoint string) int {
	p := &model.Proxy{Endpoint: endpoint, IsActive: true}
	if err := sess.CreateProxy(p); err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	fmt.Printf("proxy %d added\n", p.ID)
	return 0
}

func proxySetActive(sess *store.Session, id int64, active bool) int {
	if err := sess.SetProxyActive(id, active); err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	fmt.Printf("proxy %d active=%t\n", id, active)
	return 0
}

func proxyUnblock(sess *store.Session, id int64) int {
	if err := sess.ClearBlock(id); err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	fmt.Printf("proxy %d unblocked\n", id)
	return 0
}

func taskList(sess *store.Session) int {
	tasks, err := sess.ListTasks()
	if err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNER\tNAME\tACTIVE\tINTERVAL\tCHECKS\tNEXT CHECK")
	for _, t := range tasks {
		fmt.Fprintf(w, "%d\t%d\t%s\t%t\t%ds\t%d\t%s\n",
			t.ID, t.OwnerID, t.Name, t.IsActive, t.CheckInterval, t.TotalChecks, fmtTime(t.NextCheck))
	}
	w.Flush()
	return 0
}

func taskShow(sess *store.Session, id int64) int {
	task, err := sess.GetTask(id)
	if err != nil {
		if err == store.ErrNotFound {
			fmt.Fprintf(os.Stderr, "admin: task %d not found\n", id)
			return 2
		}
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	fmt.Printf("id:             %d\n", task.ID)
	fmt.Printf("owner:          %d\n", task.OwnerID)
	fmt.Printf("name:           %s\n", task.Name)
	fmt.Printf("url:            %s\n", task.URL)
	fmt.Printf("active:         %t\n", task.IsActive)
	fmt.Printf("check interval: %ds\n", task.CheckInterval)
	fmt.Printf("total checks:   %d\n", task.TotalChecks)
	fmt.Printf("last check:     %s\n", fmtTime(task.LastCheck))
	fmt.Printf("next check:     %s\n", fmtTime(task.NextCheck))

	items, err := sess.ListFoundItems(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	fmt.Printf("found items:    %d\n", len(items))
	for _, it := range items {
		fmt.Printf("  %s  %d cents  first seen %s\n", it.Fingerprint, it.PriceCents, it.FirstSeenAt.Format(time.RFC3339))
	}
	return 0
}

func taskCreate(sess *store.Session, args []string) int {
	fs := flag.NewFlagSet("task create", flag.ContinueOnError)
	owner := fs.Int64("owner", 0, "owning chat id")
	name := fs.String("name", "", "task name")
	taskURL := fs.String("url", "", "market listing url")
	interval := fs.Int("interval", model.MinCheckInterval, "check interval in seconds")
	filters := fs.String("filters", "{}", "filter document as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *owner == 0 || *name == "" || *taskURL == "" {
		fmt.Fprintln(os.Stderr, "admin: task create requires -owner, -name, and -url")
		return 1
	}

	var doc model.FilterDoc
	if err := json.Unmarshal([]byte(*filters), &doc); err != nil {
		fmt.Fprintf(os.Stderr, "admin: invalid filters: %v\n", err)
		return 1
	}

	task := &model.MonitoringTask{
		OwnerID:       *owner,
		Name:          *name,
		URL:           *taskURL,
		Filters:       doc,
		CheckInterval: *interval,
		IsActive:      true,
	}
	if err := sess.CreateTask(task); err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	fmt.Printf("task %d created (interval %ds)\n", task.ID, task.CheckInterval)
	return 0
}

func taskSetActive(sess *store.Session, id int64, active bool) int {
	if err := sess.SetActive(id, active); err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	fmt.Printf("task %d active=%t\n", id, active)
	return 0
}

func taskDelete(sess *store.Session, id int64) int {
	if err := sess.DeleteTask(id); err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	fmt.Printf("task %d deleted\n", id)
	return 0
}

func status(ctx context.Context, st *store.Store, sess *store.Session, proxies *proxymgr.Manager) int {
	version, err := st.MigrateStatus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	stats, err := proxies.GetStats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	found, err := sess.CountFoundItems()
	if err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	tasks, err := sess.ListTasks()
	if err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		return 2
	}
	active := 0
	for _, t := range tasks {
		if t.IsActive {
			active++
		}
	}
	fmt.Printf("schema version:  %d\n", version)
	fmt.Printf("tasks:           %d (%d active)\n", len(tasks), active)
	fmt.Printf("found items:     %d\n", found)
	fmt.Printf("proxies:         %d total, %d active, %d inactive\n", stats.Total, stats.Active, stats.Inactive)
	fmt.Printf("blocked:         %d (%d of them active)\n", stats.Blocked, stats.ActiveBlocked)
	return 0
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
