// syncboxctl operates on a profile's local store directly. The profile
// flock serializes it against a running daemon, so the two never
// interleave writes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/syncbox/internal/api"
	"github.com/matheus3301/syncbox/internal/auth"
	"github.com/matheus3301/syncbox/internal/config"
	"github.com/matheus3301/syncbox/internal/device"
	"github.com/matheus3301/syncbox/internal/lock"
	"github.com/matheus3301/syncbox/internal/profile"
	"github.com/matheus3301/syncbox/internal/remote"
	"github.com/matheus3301/syncbox/internal/store"
	syncengine "github.com/matheus3301/syncbox/internal/sync"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	env, err := openEnv(profileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer env.close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch args[0] {
	case "get":
		requireArgs(args, 3, "usage: syncboxctl get <category> <key>")
		cmdGet(env, args[1], args[2], *jsonFlag)
	case "set":
		requireArgs(args, 4, "usage: syncboxctl set <category> <key> <value>")
		cmdSet(env, args[1], args[2], args[3])
	case "del":
		requireArgs(args, 3, "usage: syncboxctl del <category> <key>")
		cmdDel(env, args[1], args[2])
	case "list":
		cmdList(env, *jsonFlag)
	case "devices":
		cmdDevices(env, *jsonFlag)
	case "logout-others":
		cmdLogoutOthers(env)
	case "sync":
		cmdSync(ctx, env)
	case "status":
		cmdStatus(env, *jsonFlag)
	default:
		printUsage()
		os.Exit(1)
	}
}

// env bundles the services a ctl command needs.
type env struct {
	lk       *lock.Lock
	db       *store.DB
	settings *api.SettingsService
	devices  *api.DevicesService
	engine   *syncengine.Engine
	sessions auth.SessionSource
	deviceID string
}

func openEnv(profileName string) (*env, error) {
	if err := profile.EnsureDir(profileName); err != nil {
		return nil, err
	}
	lk, err := lock.Acquire(profile.Dir(profileName))
	if err != nil {
		return nil, fmt.Errorf("%w (is syncboxd running?)", err)
	}

	db, err := store.Open(profile.DBPath(profileName))
	if err != nil {
		_ = lk.Release()
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = lk.Release()
		return nil, err
	}

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		cfg = &config.Config{}
	}
	sessions := &auth.FileSource{Path: profile.TokenPath(profileName)}
	deviceID, err := device.ResolveID(profile.DeviceIDPath(profileName))
	if err != nil {
		_ = db.Close()
		_ = lk.Release()
		return nil, err
	}

	client := remote.New(cfg.RemoteURL, cfg.RequestTimeout())
	logger := zap.NewNop()
	engine := syncengine.NewEngine(db, client, sessions, deviceID, device.Describe(), nil, nil, cfg.SyncInterval(), logger)

	return &env{
		lk:       lk,
		db:       db,
		settings: api.NewSettingsService(db, engine, sessions, nil, logger),
		devices:  api.NewDevicesService(db, sessions, nil, logger),
		engine:   engine,
		sessions: sessions,
		deviceID: deviceID,
	}, nil
}

func (e *env) close() {
	_ = e.db.Close()
	_ = e.lk.Release()
}

func cmdGet(e *env, category, key string, jsonOut bool) {
	v := e.settings.Category(category).Get(key, nil)
	if v == nil {
		fmt.Fprintf(os.Stderr, "error: %s/%s not set\n", category, key)
		os.Exit(1)
	}
	printValue(v, jsonOut)
}

func cmdSet(e *env, category, key, raw string) {
	// Values that parse as JSON keep their type; everything else is a string.
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	if err := e.settings.Category(category).Update(key, v); err != nil {
		fail(err)
	}
	fmt.Printf("set %s/%s (queued for sync)\n", category, key)
}

func cmdDel(e *env, category, key string) {
	if err := e.settings.Category(category).Delete(key); err != nil {
		fail(err)
	}
	fmt.Printf("deleted %s/%s (queued for sync)\n", category, key)
}

func cmdList(e *env, jsonOut bool) {
	all, err := e.settings.All()
	if err != nil {
		fail(err)
	}
	if jsonOut {
		printValue(all, true)
		return
	}
	for category, entries := range all {
		for key, v := range entries {
			fmt.Printf("%s/%s = %v\n", category, key, v)
		}
	}
}

func cmdDevices(e *env, jsonOut bool) {
	devices, err := e.devices.GetDevices()
	if err != nil {
		fail(err)
	}
	if jsonOut {
		printValue(devices, true)
		return
	}
	for _, d := range devices {
		marker := " "
		if d.IsCurrent {
			marker = "*"
		}
		fmt.Printf("%s %s  %s (%s, %s)  last active %s\n",
			marker, d.ID, d.Name, d.Type, d.OS,
			time.UnixMilli(d.LastActive).Format(time.RFC3339))
	}
}

func cmdLogoutOthers(e *env) {
	if err := e.devices.LogoutAllDevices(); err != nil {
		fail(err)
	}
	fmt.Println("logged out all other devices")
}

func cmdSync(ctx context.Context, e *env) {
	if err := e.engine.ForceSync(ctx); err != nil {
		fail(err)
	}
	fmt.Println("sync complete")
}

func cmdStatus(e *env, jsonOut bool) {
	sess, err := e.sessions.Session()
	userID := ""
	if err == nil {
		userID = sess.UserID
	}

	var stats *store.OutboxStats
	if userID != "" {
		stats, err = e.db.Stats(userID)
		if err != nil {
			fail(err)
		}
	} else {
		stats = &store.OutboxStats{}
	}

	if jsonOut {
		printValue(map[string]any{
			"device_id":      e.deviceID,
			"user_id":        userID,
			"authenticated":  userID != "",
			"outbox_pending": stats.Pending,
			"outbox_synced":  stats.Synced,
			"max_retry":      stats.MaxRetry,
		}, true)
		return
	}
	fmt.Printf("device:  %s\n", e.deviceID)
	if userID == "" {
		fmt.Println("auth:    no session")
	} else {
		fmt.Printf("auth:    %s\n", userID)
	}
	fmt.Printf("outbox:  %d pending, %d synced, max retry %d\n",
		stats.Pending, stats.Synced, stats.MaxRetry)
}

func printValue(v any, jsonOut bool) {
	if jsonOut {
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fail(err)
		}
		fmt.Println(string(out))
		return
	}
	fmt.Printf("%v\n", v)
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: syncboxctl [-profile name] [-json] <command>

commands:
  get <category> <key>          print one setting
  set <category> <key> <value>  write a setting (JSON values keep their type)
  del <category> <key>          delete a setting
  list                          print all settings
  devices                       list known devices (* = this install)
  logout-others                 remove all other device records
  sync                          run one sync round now
  status                        show auth, device and outbox state`)
}
