// Package host wires every host-core subsystem onto the single flat
// HOST binding the TypeScript script preamble calls, using
// github.com/dop251/goja as the embedded ECMAScript engine. HOST groups
// operations by concern (fs, env, process, crypto, url, storage,
// cacheStorage, streams, tcp, http, sqlite, ffi, timer, broadcast, locks,
// console, navigator, perf, canvas), making each group a plain JS object
// of Go-backed functions goja marshals automatically.
package host

import (
	"bufio"
	"context"
	"image/color"
	"net"
	"os"
	"time"

	"github.com/dop251/goja"
	"github.com/fsnotify/fsnotify"

	"github.com/andromeda-rt/andromeda/internal/config"
	"github.com/andromeda-rt/andromeda/internal/debugserver"
	"github.com/andromeda-rt/andromeda/internal/errs"
	"github.com/andromeda-rt/andromeda/internal/obslog"
	"github.com/andromeda-rt/andromeda/pkg/broadcast"
	"github.com/andromeda-rt/andromeda/pkg/cachestorage"
	"github.com/andromeda-rt/andromeda/pkg/canvas"
	"github.com/andromeda-rt/andromeda/pkg/console"
	"github.com/andromeda-rt/andromeda/pkg/crypto"
	"github.com/andromeda-rt/andromeda/pkg/eventloop"
	"github.com/andromeda-rt/andromeda/pkg/ffi"
	"github.com/andromeda-rt/andromeda/pkg/fetch"
	"github.com/andromeda-rt/andromeda/pkg/kvstore"
	"github.com/andromeda-rt/andromeda/pkg/locks"
	"github.com/andromeda-rt/andromeda/pkg/navigator"
	"github.com/andromeda-rt/andromeda/pkg/perf"
	"github.com/andromeda-rt/andromeda/pkg/promisebridge"
	"github.com/andromeda-rt/andromeda/pkg/resource"
	"github.com/andromeda-rt/andromeda/pkg/serve"
	"github.com/andromeda-rt/andromeda/pkg/sqlitebinding"
	"github.com/andromeda-rt/andromeda/pkg/streams"
	"github.com/andromeda-rt/andromeda/pkg/urlutil"
)

// Runtime is the process-wide collection of subsystem handles bound to
// one script execution context. Per its "Global mutable
// state" redesign, nothing here is a package-level singleton; every
// subsystem is an explicit handle threaded through Runtime.
type Runtime struct {
	VM *goja.Runtime
	Loop *eventloop.Loop
	Bridge *promisebridge.Bridge
	Resources *resource.Table
	Storage *kvstore.Registry
	Caches *cachestorage.Storage
	Locks *locks.Manager
	Perf *perf.Performance
	Console *console.Console
	Broadcast *broadcast.Hub
	Config *config.Config
	Log *obslog.Logger
	Debug *debugserver.Server

	cliArgs []string
	stdin *bufio.Scanner
	fetchTransport *fetch.HTTPTransport
}

// New constructs a fully wired Runtime: event loop, resource table,
// storage registries, and a fresh goja VM with HOST bound onto its
// global object.
func New(cfg *config.Config, log *obslog.Logger, cliArgs []string) (*Runtime, error) {
	loop := eventloop.New(cfg.WorkerPoolSize, log)
	storageReg, err := kvstore.New(cfg.StorageDir + "/storage.db")
	if err != nil {
		return nil, err
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	r := &Runtime{
		VM: vm,
		Loop: loop,
		Bridge: promisebridge.New(loop),
		Resources: resource.New(),
		Storage: storageReg,
		Caches: cachestorage.New(64 * 1024 * 1024),
		Locks: locks.New(),
		Perf: perf.New(),
		Console: console.New(os.Stdout, os.Stderr),
		Broadcast: broadcast.NewHub(loop),
		Config: cfg,
		Log: log.WithComponent("host"),
		cliArgs: cliArgs,
		stdin: bufio.NewScanner(os.Stdin),
		fetchTransport: fetch.NewHTTPTransport(30 * time.Second),
	}
	r.bindHost()
	return r, nil
}

// Census implements debugserver.CensusProvider.
func (r *Runtime) Census() debugserver.RuntimeCensus {
	return debugserver.CensusFromResourceTable(r.Resources, 0, r.Bridge.Pending())
}

func (r *Runtime) bindHost() {
	host := r.VM.NewObject()

	host.Set("internal_print", func(s string) { os.Stdout.WriteString(s) })
	host.Set("internal_print_err", func(s string) { os.Stderr.WriteString(s) })
	host.Set("internal_read_line", func() goja.Value {
		if !r.stdin.Scan() {
			return goja.Null()
		}
		return r.VM.ToValue(r.stdin.Text())
	})

	r.bindFS(host)
	r.bindEnv(host)
	r.bindProcess(host)
	r.bindCrypto(host)
	r.bindURL(host)
	r.bindStorage(host)
	r.bindCacheStorage(host)
	r.bindStreams(host)
	r.bindFetch(host)
	r.bindSQLite(host)
	r.bindFFI(host)
	r.bindTimer(host)
	r.bindBroadcast(host)
	r.bindLocks(host)
	r.bindConsole(host)
	r.bindNavigator(host)
	r.bindPerf(host)
	r.bindTCP(host)
	r.bindCanvas(host)

	r.VM.Set("HOST", host)
}

// throwHostError converts a Go error into a goja-thrown exception
// carrying its Kind, so script-side catch blocks can branch on a typed
// exception rather than a bare string.
func (r *Runtime) throwHostError(err error) goja.Value {
	kind := errs.KindOf(err)
	obj := r.VM.NewObject()
	obj.Set("kind", string(kind))
	obj.Set("message", err.Error())
	panic(r.VM.ToValue(obj))
}

func (r *Runtime) bindFS(host *goja.Object) {
	fs := r.VM.NewObject()
	fs.Set("readTextFile", func(path string) string {
		data, err := os.ReadFile(path)
		if err != nil {
			r.throwHostError(errs.Wrap(errs.NotFound, "readTextFile", err))
		}
		return string(data)
	})
	fs.Set("writeTextFile", func(path, content string) {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			r.throwHostError(errs.Wrap(errs.Internal, "writeTextFile", err))
		}
	})
	fs.Set("readFile", func(path string) []byte {
		data, err := os.ReadFile(path)
		if err != nil {
			r.throwHostError(errs.Wrap(errs.NotFound, "readFile", err))
		}
		return data
	})
	fs.Set("writeFile", func(path string, data []byte) {
		if err := os.WriteFile(path, data, 0644); err != nil {
			r.throwHostError(errs.Wrap(errs.Internal, "writeFile", err))
		}
	})
	fs.Set("exists", func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	})
	fs.Set("stat", func(path string) fileStat {
		info, err := os.Stat(path)
		if err != nil {
			r.throwHostError(errs.Wrap(errs.NotFound, "stat", err))
		}
		return statOf(info)
	})
	fs.Set("lstat", func(path string) fileStat {
		info, err := os.Lstat(path)
		if err != nil {
			r.throwHostError(errs.Wrap(errs.NotFound, "lstat", err))
		}
		return statOf(info)
	})
	fs.Set("remove", func(path string) {
		if err := os.Remove(path); err != nil {
			r.throwHostError(errs.Wrap(errs.NotFound, "remove", err))
		}
	})
	fs.Set("removeAll", func(path string) {
		if err := os.RemoveAll(path); err != nil {
			r.throwHostError(errs.Wrap(errs.Internal, "removeAll", err))
		}
	})
	fs.Set("rename", func(oldPath, newPath string) {
		if err := os.Rename(oldPath, newPath); err != nil {
			r.throwHostError(errs.Wrap(errs.Internal, "rename", err))
		}
	})
	fs.Set("mkdir", func(path string, perm int) {
		if err := os.Mkdir(path, os.FileMode(perm)); err != nil {
			r.throwHostError(errs.Wrap(errs.Internal, "mkdir", err))
		}
	})
	fs.Set("mkdirAll", func(path string, perm int) {
		if err := os.MkdirAll(path, os.FileMode(perm)); err != nil {
			r.throwHostError(errs.Wrap(errs.Internal, "mkdirAll", err))
		}
	})
	fs.Set("readDir", func(path string) []string {
		entries, err := os.ReadDir(path)
		if err != nil {
			r.throwHostError(errs.Wrap(errs.NotFound, "readDir", err))
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		return names
	})
	fs.Set("chmod", func(path string, mode int) {
		if err := os.Chmod(path, os.FileMode(mode)); err != nil {
			r.throwHostError(errs.Wrap(errs.Internal, "chmod", err))
		}
	})
	fs.Set("truncate", func(path string, size int64) {
		if err := os.Truncate(path, size); err != nil {
			r.throwHostError(errs.Wrap(errs.Internal, "truncate", err))
		}
	})
	fs.Set("copyFile", func(src, dst string) {
		data, err := os.ReadFile(src)
		if err != nil {
			r.throwHostError(errs.Wrap(errs.NotFound, "copyFile: read", err))
		}
		if err := os.WriteFile(dst, data, 0644); err != nil {
			r.throwHostError(errs.Wrap(errs.Internal, "copyFile: write", err))
		}
	})

	// Async variants post to the worker pool and settle a promise slot
	// rather than blocking the script thread.
	fs.Set("readTextFile_async", func(path string) uint64 {
		return r.asyncFS(func(ctx context.Context) (any, error) {
			data, err := os.ReadFile(path)
			return string(data), err
		})
	})
	fs.Set("watch", func(path string, onEvent func(eventType, name string)) uint64 {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			r.throwHostError(errs.Wrap(errs.Internal, "watch", err))
		}
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			r.throwHostError(errs.Wrap(errs.NotFound, "watch", err))
		}
		go func() {
			for {
				select {
				case ev, ok := <-watcher.Events:
					if !ok {
						return
					}
					r.Loop.PostReady(func() { onEvent(ev.Op.String(), ev.Name) })
				case _, ok := <-watcher.Errors:
					if !ok {
						return
					}
				}
			}
		}()
		return uint64(r.Resources.Insert(resource.KindFile, watcher))
	})
	fs.Set("unwatch", func(handleID uint64) {
		v, err := r.Resources.Get(resource.ID(handleID), resource.KindFile)
		if err != nil {
			r.throwHostError(err)
		}
		if err := v.(*fsnotify.Watcher).Close(); err != nil {
			r.throwHostError(errs.Wrap(errs.Internal, "unwatch", err))
		}
		r.Resources.Drop(resource.ID(handleID))
	})
	fs.Set("writeTextFile_async", func(path, content string) uint64 {
		return r.asyncFS(func(ctx context.Context) (any, error) {
			return nil, os.WriteFile(path, []byte(content), 0644)
		})
	})

	host.Set("fs", fs)
}

// asyncFS submits work to the pool and returns a promise slot ID the
// script preamble resolves through the promise bridge.
func (r *Runtime) asyncFS(work func(context.Context) (any, error)) uint64 {
	slotID := r.Bridge.NewSlot(func(outcome promisebridge.Outcome) {})
	r.Loop.SubmitBlocking(context.Background(), work, func(result any, err error) {
		r.Bridge.Settle(slotID, promisebridge.Outcome{Value: result, Err: err})
	})
	return uint64(slotID)
}

func (r *Runtime) bindEnv(host *goja.Object) {
	env := r.VM.NewObject()
	env.Set("get", func(key string) goja.Value {
		v, ok := os.LookupEnv(key)
		if !ok {
			return goja.Undefined()
		}
		return r.VM.ToValue(v)
	})
	env.Set("set", func(key, value string) { os.Setenv(key, value) })
	env.Set("delete", func(key string) { os.Unsetenv(key) })
	env.Set("keys", func() []string {
		var keys []string
		for _, kv := range os.Environ() {
			for i, c := range kv {
				if c == '=' {
					keys = append(keys, kv[:i])
					break
				}
			}
		}
		return keys
	})
	host.Set("env", env)
}

func (r *Runtime) bindProcess(host *goja.Object) {
	process := r.VM.NewObject()
	process.Set("exit", func(code int) { os.Exit(code) })
	process.Set("sleep", func(ms int) {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	})
	process.Set("cliArgs", func() []string { return r.cliArgs })
	host.Set("process", process)
}

func (r *Runtime) bindCrypto(host *goja.Object) {
	c := r.VM.NewObject()
	c.Set("getRandomValues", func(length int) []byte {
		buf := make([]byte, length)
		if err := crypto.GetRandomValues(buf); err != nil {
			r.throwHostError(err)
		}
		return buf
	})
	c.Set("randomUUID", crypto.RandomUUID)
	c.Set("subtle_digest", func(alg string, data []byte) []byte {
		d, err := crypto.Digest(crypto.DigestAlgorithm(alg), data)
		if err != nil {
			r.throwHostError(err)
		}
		return d
	})
	c.Set("subtle_generateKey", func() *crypto.AESGCMKey {
		k, err := crypto.GenerateAESGCMKey()
		if err != nil {
			r.throwHostError(err)
		}
		return k
	})
	c.Set("subtle_importKey", func(raw []byte) *crypto.AESGCMKey {
		k, err := crypto.ImportAESGCMKey(raw)
		if err != nil {
			r.throwHostError(err)
		}
		return k
	})
	c.Set("subtle_exportKey", func(k *crypto.AESGCMKey) []byte { return k.ExportRaw() })
	c.Set("subtle_encrypt", func(k *crypto.AESGCMKey, iv, aad, plaintext []byte) []byte {
		out, err := k.Encrypt(iv, aad, plaintext)
		if err != nil {
			r.throwHostError(err)
		}
		return out
	})
	c.Set("subtle_decrypt", func(k *crypto.AESGCMKey, iv, aad, ciphertext []byte) []byte {
		out, err := k.Decrypt(iv, aad, ciphertext)
		if err != nil {
			r.throwHostError(err)
		}
		return out
	})
	c.Set("subtle_sign", func(alg string, key, data []byte) []byte {
		sig, err := crypto.SignHMAC(crypto.DigestAlgorithm(alg), key, data)
		if err != nil {
			r.throwHostError(err)
		}
		return sig
	})
	c.Set("subtle_verify", func(alg string, key, data, signature []byte) bool {
		ok, err := crypto.VerifyHMAC(crypto.DigestAlgorithm(alg), key, data, signature)
		if err != nil {
			r.throwHostError(err)
		}
		return ok
	})
	c.Set("subtle_deriveBitsHKDF", func(alg string, ikm, salt, info []byte, length int) []byte {
		out, err := crypto.DeriveBitsHKDF(crypto.DigestAlgorithm(alg), ikm, salt, info, length)
		if err != nil {
			r.throwHostError(err)
		}
		return out
	})
	c.Set("subtle_deriveBitsPBKDF2", func(alg string, password, salt []byte, iterations, length int) []byte {
		out, err := crypto.DeriveBitsPBKDF2(crypto.DigestAlgorithm(alg), password, salt, iterations, length)
		if err != nil {
			r.throwHostError(err)
		}
		return out
	})
	c.Set("subtle_deriveKey", func(alg string, ikm, salt, info []byte) *crypto.AESGCMKey {
		key, err := crypto.DeriveKey(crypto.DigestAlgorithm(alg), ikm, salt, info)
		if err != nil {
			r.throwHostError(err)
		}
		return key
	})
	c.Set("subtle_wrapKey", func(wrappingKey *crypto.AESGCMKey, iv, aad []byte, target *crypto.AESGCMKey) []byte {
		wrapped, err := crypto.WrapKey(wrappingKey, iv, aad, target)
		if err != nil {
			r.throwHostError(err)
		}
		return wrapped
	})
	c.Set("subtle_unwrapKey", func(wrappingKey *crypto.AESGCMKey, iv, aad, wrapped []byte) *crypto.AESGCMKey {
		key, err := crypto.UnwrapKey(wrappingKey, iv, aad, wrapped)
		if err != nil {
			r.throwHostError(err)
		}
		return key
	})
	host.Set("crypto", c)
}

func (r *Runtime) bindURL(host *goja.Object) {
	u := r.VM.NewObject()
	u.Set("parse", func(raw string) *urlutil.URL {
		parsed, err := urlutil.Parse(raw)
		if err != nil {
			r.throwHostError(err)
		}
		return parsed
	})
	u.Set("parseRelative", func(raw string, base *urlutil.URL) *urlutil.URL {
		parsed, err := urlutil.ParseRelative(raw, base)
		if err != nil {
			r.throwHostError(err)
		}
		return parsed
	})
	host.Set("url", u)
}

func (r *Runtime) bindStorage(host *goja.Object) {
	s := r.VM.NewObject()
	ctx := context.Background()
	s.Set("storage_length", func(persistent bool) int {
		n, err := r.Storage.For(persistent).Length(ctx)
		if err != nil {
			r.throwHostError(err)
		}
		return n
	})
	s.Set("storage_key", func(persistent bool, index int) goja.Value {
		k, ok, err := r.Storage.For(persistent).Key(ctx, index)
		if err != nil {
			r.throwHostError(err)
		}
		if !ok {
			return goja.Null()
		}
		return r.VM.ToValue(k)
	})
	s.Set("storage_getItem", func(persistent bool, key string) goja.Value {
		v, ok, err := r.Storage.For(persistent).GetItem(ctx, key)
		if err != nil {
			r.throwHostError(err)
		}
		if !ok {
			return goja.Null()
		}
		return r.VM.ToValue(v)
	})
	s.Set("storage_setItem", func(persistent bool, key, value string) {
		if err := r.Storage.For(persistent).SetItem(ctx, key, value); err != nil {
			r.throwHostError(err)
		}
	})
	s.Set("storage_removeItem", func(persistent bool, key string) {
		if err := r.Storage.For(persistent).RemoveItem(ctx, key); err != nil {
			r.throwHostError(err)
		}
	})
	s.Set("storage_clear", func(persistent bool) {
		if err := r.Storage.For(persistent).Clear(ctx); err != nil {
			r.throwHostError(err)
		}
	})
	s.Set("storage_iterateKeys", func(persistent bool) []string {
		keys, err := r.Storage.For(persistent).IterateKeys(ctx)
		if err != nil {
			r.throwHostError(err)
		}
		return keys
	})
	host.Set("storage", s)
}

func (r *Runtime) bindCacheStorage(host *goja.Object) {
	c := r.VM.NewObject()
	c.Set("cacheStorage_open", func(name string) *cachestorage.Cache { return r.Caches.Open(name) })
	c.Set("cacheStorage_has", func(name string) bool { return r.Caches.Has(name) })
	c.Set("cacheStorage_delete", func(name string) bool { return r.Caches.Delete(name) })
	c.Set("cacheStorage_keys", func() []string { return r.Caches.Keys() })

	// Per-cache operations on a *cachestorage.Cache handed back by
	// cacheStorage_open.
	c.Set("cache_put", func(cache *cachestorage.Cache, key cachestorage.RequestKey, status int, headers map[string][]string, body []byte) {
		cache.Put(key, status, headers, body)
	})
	c.Set("cache_match", func(cache *cachestorage.Cache, key cachestorage.RequestKey, opts cachestorage.QueryOptions) *cachestorage.Entry {
		return cache.Match(key, opts)
	})
	c.Set("cache_matchAll", func(cache *cachestorage.Cache, key cachestorage.RequestKey, opts cachestorage.QueryOptions) []*cachestorage.Entry {
		return cache.MatchAll(key, opts)
	})
	c.Set("cache_delete", func(cache *cachestorage.Cache, key cachestorage.RequestKey, opts cachestorage.QueryOptions) bool {
		return cache.Delete(key, opts)
	})
	c.Set("cache_keys", func(cache *cachestorage.Cache) []cachestorage.RequestKey { return cache.Keys() })

	// add/addAll synthesize a fetch per request key via the shared fetch
	// transport, dispatched to the pool since they perform network I/O.
	c.Set("cache_add", func(cache *cachestorage.Cache, key cachestorage.RequestKey) uint64 {
		return r.asyncFS(func(ctx context.Context) (any, error) {
			return nil, cache.Add(key, r.fetchForCache())
		})
	})
	c.Set("cache_addAll", func(cache *cachestorage.Cache, keys []cachestorage.RequestKey) uint64 {
		return r.asyncFS(func(ctx context.Context) (any, error) {
			return nil, cache.AddAll(keys, r.fetchForCache())
		})
	})

	host.Set("cacheStorage", c)
}

// fetchForCache adapts pkg/fetch onto cachestorage.FetchFunc, synthesizing a
// GET request for the cache key's method+URL over the shared fetch
// transport and flattening the response into the tuple Put stores.
func (r *Runtime) fetchForCache() cachestorage.FetchFunc {
	return func(key cachestorage.RequestKey) (int, map[string][]string, []byte, error) {
		u, err := urlutil.Parse(key.URL)
		if err != nil {
			return 0, nil, nil, err
		}
		req := &fetch.Request{
			Method: key.Method,
			URL: u,
			Mode: fetch.ModeNoCors,
			Redirect: fetch.RedirectFollow,
		}
		resp, err := fetch.Fetch(context.Background(), req, r.fetchTransport)
		if err != nil {
			return 0, nil, nil, err
		}
		headers := make(map[string][]string, len(resp.Headers))
		for _, h := range resp.Headers {
			headers[h.Name] = append(headers[h.Name], h.Value)
		}
		return resp.Status, headers, resp.Body, nil
	}
}

func (r *Runtime) bindStreams(host *goja.Object) {
	s := r.VM.NewObject()
	s.Set("create", func(hwm float64) *streams.Stream {
		return streams.New(streams.KindDefault, uint32(hwm), nil, nil)
	})
	s.Set("createByob", func(hwm float64) *streams.Stream {
		return streams.New(streams.KindBytes, uint32(hwm), nil, nil)
	})
	s.Set("enqueue", func(st *streams.Stream, data goja.Value) {
		if err := st.Enqueue(streams.Chunk{Value: data.Export()}); err != nil {
			r.throwHostError(err)
		}
	})
	s.Set("close", func(st *streams.Stream) {
		if err := st.Close(); err != nil {
			r.throwHostError(err)
		}
	})
	s.Set("error", func(st *streams.Stream, reason string) {
		if err := st.Error(errs.New(errs.Internal, reason)); err != nil {
			r.throwHostError(err)
		}
	})
	s.Set("getState", func(st *streams.Stream) string { return string(st.State()) })
	s.Set("getChunkCount", func(st *streams.Stream) int { return st.ChunkCount() })
	s.Set("getDesiredSize", func(st *streams.Stream) float64 { return st.DesiredSize() })
	s.Set("lock", func(st *streams.Stream) *streams.Reader {
		reader, err := st.GetReader()
		if err != nil {
			r.throwHostError(err)
		}
		return reader
	})
	s.Set("unlock", func(st *streams.Stream) { st.ReleaseLock() })
	s.Set("setDesiredSize", func(st *streams.Stream, n int64) { st.SetDesiredSize(n) })
	s.Set("cancel", func(st *streams.Stream, reason string) {
		if err := st.Cancel(errs.New(errs.Internal, reason)); err != nil {
			r.throwHostError(err)
		}
	})
	s.Set("tee", func(st *streams.Stream) []*streams.Stream {
		a, b := streams.Tee(st)
		return []*streams.Stream{a, b}
	})
	s.Set("newPullIntoRequest", func(buffer []byte, offset, length, elementSize int) *streams.PullIntoRequest {
		return &streams.PullIntoRequest{Buffer: buffer, Offset: offset, Length: length, ElementSize: elementSize}
	})
	s.Set("read", func(reader *streams.Reader, callback func(chunk goja.Value, done bool, errVal goja.Value)) {
		reader.Read(func(chunk streams.Chunk, done bool, err error) {
			r.Loop.PostReady(func() { callback(chunkValue(r.VM, chunk), done, errHostValue(r.VM, err)) })
		})
	})
	// byobReaderRead shares PullInto with the plain "pullInto" binding: the
	// Go-level stream has a single BYOB read primitive, and script picks
	// which entrypoint name fits its reader type.
	s.Set("byobReaderRead", func(reader *streams.Reader, req *streams.PullIntoRequest, callback func(bytesFilled int, done bool, errVal goja.Value)) {
		reader.PullInto(req, func(n int, done bool, err error) {
			r.Loop.PostReady(func() { callback(n, done, errHostValue(r.VM, err)) })
		})
	})
	s.Set("pullInto", func(reader *streams.Reader, req *streams.PullIntoRequest, callback func(bytesFilled int, done bool, errVal goja.Value)) {
		reader.PullInto(req, func(n int, done bool, err error) {
			r.Loop.PostReady(func() { callback(n, done, errHostValue(r.VM, err)) })
		})
	})
	s.Set("respond", func(reader *streams.Reader, req *streams.PullIntoRequest, byteCount int) {
		if err := reader.Respond(req, byteCount); err != nil {
			r.throwHostError(err)
		}
	})
	host.Set("streams", s)
}

// chunkValue renders a streams.Chunk as the value script's read callback
// receives: raw bytes for a byte-stream chunk, the enqueued value otherwise.
func chunkValue(vm *goja.Runtime, c streams.Chunk) goja.Value {
	if c.Bytes != nil {
		return vm.ToValue(c.Bytes)
	}
	return vm.ToValue(c.Value)
}

// errHostValue renders a Go error as the {kind, message} shape
// throwHostError throws, but as a plain return value for callbacks that
// resolve/reject rather than throw.
func errHostValue(vm *goja.Runtime, err error) goja.Value {
	if err == nil {
		return goja.Null()
	}
	obj := vm.NewObject()
	obj.Set("kind", string(errs.KindOf(err)))
	obj.Set("message", err.Error())
	return obj
}

// bindFetch wires pkg/fetch's client fetch algorithm onto HOST.fetch,
// dispatched through the pool exactly like the other blocking host
// operations (asyncFS, HOST.tcp's *_async group).
func (r *Runtime) bindFetch(host *goja.Object) {
	f := r.VM.NewObject()
	f.Set("fetch", func(opts fetchOptions) uint64 {
		req, err := opts.toRequest()
		if err != nil {
			r.throwHostError(err)
		}
		return r.asyncFS(func(ctx context.Context) (any, error) {
			return fetch.Fetch(ctx, req, r.fetchTransport)
		})
	})
	f.Set("needsPreflight", func(opts fetchOptions) bool {
		req, err := opts.toRequest()
		if err != nil {
			r.throwHostError(err)
		}
		return fetch.NeedsPreflight(req)
	})
	f.Set("buildPreflightRequest", func(opts fetchOptions) *fetch.Request {
		req, err := opts.toRequest()
		if err != nil {
			r.throwHostError(err)
		}
		return fetch.BuildPreflightRequest(req)
	})
	f.Set("verifyIntegrity", func(integrity string, body []byte) bool {
		ok, err := fetch.VerifyIntegrity(integrity, body)
		if err != nil {
			r.throwHostError(err)
		}
		return ok
	})
	host.Set("fetch", f)
}

// fetchOptions is the plain-data shape HOST.fetch.fetch accepts from
// script, mirroring fetch.Request's fields with URL/Origin/ClientOrigin as
// parsed *urlutil.URL handles (as returned by HOST.url.parse).
type fetchOptions struct {
	Method string
	URL *urlutil.URL
	Headers []fetch.Header
	Body []byte
	Mode string
	CredentialsMode string
	Redirect string
	Integrity string
	Origin *urlutil.URL
	ClientOrigin *urlutil.URL
	Destination string
	EmbedderPolicy string
}

func (o fetchOptions) toRequest() (*fetch.Request, error) {
	if o.URL == nil {
		return nil, errs.New(errs.InvalidInput, "fetch: URL is required")
	}
	return &fetch.Request{
		Method: o.Method,
		URL: o.URL,
		Headers: o.Headers,
		Body: o.Body,
		Mode: fetch.Mode(o.Mode),
		CredentialsMode: o.CredentialsMode,
		Redirect: fetch.RedirectMode(o.Redirect),
		Integrity: o.Integrity,
		Origin: o.Origin,
		ClientOrigin: o.ClientOrigin,
		Destination: o.Destination,
		EmbedderPolicy: fetch.EmbedderPolicy(o.EmbedderPolicy),
	}, nil
}

func (r *Runtime) bindSQLite(host *goja.Object) {
	s := r.VM.NewObject()
	s.Set("open", func(filename string) *sqlitebinding.Connection {
		conn, err := sqlitebinding.Open(filename)
		if err != nil {
			r.throwHostError(err)
		}
		return conn
	})
	s.Set("close", func(conn *sqlitebinding.Connection) {
		if err := conn.Close(); err != nil {
			r.throwHostError(err)
		}
	})
	s.Set("exec", func(conn *sqlitebinding.Connection, query string) {
		if err := conn.Exec(query); err != nil {
			r.throwHostError(err)
		}
	})
	s.Set("prepare", func(conn *sqlitebinding.Connection, query string) *sqlitebinding.Statement {
		stmt, err := conn.Prepare(query)
		if err != nil {
			r.throwHostError(err)
		}
		return stmt
	})
	s.Set("enableLoadExtension", func(conn *sqlitebinding.Connection, enable bool) {
		if err := conn.EnableLoadExtension(enable); err != nil {
			r.throwHostError(err)
		}
	})
	s.Set("stmt_run", func(stmt *sqlitebinding.Statement, params []any) *sqlitebinding.RunResult {
		res, err := stmt.Run(params...)
		if err != nil {
			r.throwHostError(err)
		}
		return res
	})
	s.Set("stmt_get", func(stmt *sqlitebinding.Statement, params []any) sqlitebinding.Row {
		row, err := stmt.Get(params...)
		if err != nil {
			r.throwHostError(err)
		}
		return row
	})
	s.Set("stmt_all", func(stmt *sqlitebinding.Statement, params []any) []sqlitebinding.Row {
		rows, err := stmt.All(params...)
		if err != nil {
			r.throwHostError(err)
		}
		return rows
	})
	s.Set("stmt_expandedSQL", func(stmt *sqlitebinding.Statement) string { return stmt.ExpandedSQL() })
	s.Set("stmt_sourceSQL", func(stmt *sqlitebinding.Statement) string { return stmt.SourceSQL() })
	s.Set("stmt_finalize", func(stmt *sqlitebinding.Statement) {
		if err := stmt.Finalize(); err != nil {
			r.throwHostError(err)
		}
	})
	host.Set("sqlite", s)
}

func (r *Runtime) bindFFI(host *goja.Object) {
	f := r.VM.NewObject()
	f.Set("dlopen", func(path string, symbolMap map[string]ffi.Signature) *ffi.Library {
		lib, err := ffi.Dlopen(path, symbolMap, r.Config)
		if err != nil {
			r.throwHostError(err)
		}
		return lib
	})
	f.Set("close", func(lib *ffi.Library) {
		if err := lib.Close(); err != nil {
			r.throwHostError(err)
		}
	})
	f.Set("symbol", func(lib *ffi.Library, name string) *ffi.Symbol {
		sym, err := lib.Symbol(name)
		if err != nil {
			r.throwHostError(err)
		}
		return sym
	})
	f.Set("call", func(sym *ffi.Symbol, args []ffi.Value) ffi.Value {
		result, err := sym.Call(args)
		if err != nil {
			r.throwHostError(err)
		}
		return result
	})
	f.Set("call_async", func(sym *ffi.Symbol, args []ffi.Value) uint64 {
		slotID := r.Bridge.NewSlot(func(outcome promisebridge.Outcome) {})
		sym.CallAsync(context.Background(), r.Loop, args, func(v ffi.Value, err error) {
			r.Bridge.Settle(slotID, promisebridge.Outcome{Value: v, Err: err})
		})
		return uint64(slotID)
	})
	f.Set("intValue", ffi.IntValue)
	f.Set("uintValue", ffi.UintValue)
	f.Set("floatValue", ffi.FloatValue)
	f.Set("newUnsafePointer", func(addr uintptr) ffi.UnsafePointer {
		if !r.Config.AllowUnsafePointer {
			r.throwHostError(errs.New(errs.PermissionDenied, "unsafe pointer access is disabled"))
		}
		return ffi.NewUnsafePointer(addr)
	})
	host.Set("ffi", f)
}

func (r *Runtime) bindTimer(host *goja.Object) {
	t := r.VM.NewObject()
	t.Set("set", func(ms int, callback func(goja.FunctionCall) goja.Value) uint64 {
		id := r.Loop.ScheduleTimer(time.Now().Add(time.Duration(ms)*time.Millisecond), nil, func() {
			callback(goja.FunctionCall{})
		})
		return uint64(id)
	})
	t.Set("interval", func(ms int, callback func(goja.FunctionCall) goja.Value) uint64 {
		interval := time.Duration(ms) * time.Millisecond
		id := r.Loop.ScheduleTimer(time.Now().Add(interval), &interval, func() {
			callback(goja.FunctionCall{})
		})
		return uint64(id)
	})
	t.Set("clear", func(id uint64) { r.Loop.ClearTimer(eventloop.TimerID(id)) })
	host.Set("timer", t)
}

func (r *Runtime) bindBroadcast(host *goja.Object) {
	b := r.VM.NewObject()
	b.Set("subscribe", func(name string, onMessage func(goja.Value)) *broadcast.Endpoint {
		return r.Broadcast.Open(name, func(value any) { onMessage(r.VM.ToValue(value)) })
	})
	b.Set("send", func(ep *broadcast.Endpoint, value goja.Value) {
		if err := ep.PostMessage(value.Export()); err != nil {
			r.throwHostError(err)
		}
	})
	b.Set("unsubscribe", func(ep *broadcast.Endpoint) { ep.Close() })
	host.Set("broadcast", b)
}

// bindLocks wires HOST.locks.request through the pool: RequestLock's
// blocking wait for lock acquisition must never run on the script
// goroutine, so the whole call is submitted as async work, and the
// script-facing callback only runs via Loop.PostReady once granted.
func (r *Runtime) bindLocks(host *goja.Object) {
	l := r.VM.NewObject()
	l.Set("request", func(name string, mode string, callback func(bool) error) uint64 {
		return r.asyncFS(func(ctx context.Context) (any, error) {
			done := make(chan struct{})
			var cbErr error
			err := r.Locks.RequestLock(ctx, name, "script", locks.Options{Mode: locks.Mode(mode)}, func(granted bool) error {
				r.Loop.PostReady(func() {
					defer close(done)
					cbErr = callback(granted)
				})
				<-done
				return cbErr
			})
			return nil, err
		})
	})
	l.Set("query", func() ([]locks.Snapshot, []locks.Snapshot) { return r.Locks.Query() })
	host.Set("locks", l)
}

func (r *Runtime) bindConsole(host *goja.Object) {
	c := r.VM.NewObject()
	c.Set("group_start", r.Console.GroupStart)
	c.Set("group_end", r.Console.GroupEnd)
	c.Set("clear", r.Console.Clear)
	c.Set("count", r.Console.Count)
	c.Set("countReset", r.Console.CountReset)
	c.Set("time_start", r.Console.TimeStart)
	c.Set("time_end", func(label string) float64 {
		d, _ := r.Console.TimeEnd(label)
		return float64(d) / float64(time.Millisecond)
	})
	host.Set("console", c)
}

func (r *Runtime) bindNavigator(host *goja.Object) {
	info := navigator.New("1.0.0")
	n := r.VM.NewObject()
	n.Set("userAgent", info.UserAgent)
	n.Set("platform", info.Platform)
	n.Set("battery", func() navigator.Battery { return navigator.GetBattery() })
	host.Set("navigator", n)
}

func (r *Runtime) bindPerf(host *goja.Object) {
	p := r.VM.NewObject()
	p.Set("now", r.Perf.Now)
	p.Set("mark", func(name string) {
		if _, err := r.Perf.Mark(name, perf.MarkOptions{}); err != nil {
			r.throwHostError(err)
		}
	})
	p.Set("measure", func(name, start, end string) {
		if _, err := r.Perf.Measure(name, perf.MeasureOptions{Start: start, End: end}); err != nil {
			r.throwHostError(err)
		}
	})
	p.Set("clearMarks", r.Perf.ClearMarks)
	p.Set("clearMeasures", r.Perf.ClearMeasures)
	p.Set("getEntries", r.Perf.GetEntries)
	host.Set("perf", p)
}

// bindTCP wires the raw-socket surface (listen/accept_async/read_async/
// write_async/close) and, via bindHTTPServe, the higher-level HTTP serve
// group built on pkg/serve. Both are tracked through the resource table
// so a script-held handle and a live net.Listener/net.Conn stay in lockstep.
func (r *Runtime) bindTCP(host *goja.Object) {
	t := r.VM.NewObject()
	t.Set("listen", func(addr string) uint64 {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			r.throwHostError(errs.Wrap(errs.Network, "listen", err))
		}
		return uint64(r.Resources.Insert(resource.KindTcpListener, ln))
	})
	t.Set("accept_async", func(listenerID uint64) uint64 {
		v, err := r.Resources.Get(resource.ID(listenerID), resource.KindTcpListener)
		if err != nil {
			r.throwHostError(err)
		}
		ln := v.(net.Listener)
		return r.asyncFS(func(ctx context.Context) (any, error) {
			conn, err := ln.Accept()
			if err != nil {
				return nil, errs.Wrap(errs.Network, "accept", err)
			}
			return uint64(r.Resources.Insert(resource.KindTcpConn, conn)), nil
		})
	})
	t.Set("read_async", func(connID uint64, maxBytes int) uint64 {
		v, err := r.Resources.Get(resource.ID(connID), resource.KindTcpConn)
		if err != nil {
			r.throwHostError(err)
		}
		conn := v.(net.Conn)
		return r.asyncFS(func(ctx context.Context) (any, error) {
			buf := make([]byte, maxBytes)
			n, err := conn.Read(buf)
			if err != nil {
				return nil, errs.Wrap(errs.Network, "read", err)
			}
			return buf[:n], nil
		})
	})
	t.Set("write_async", func(connID uint64, data []byte) uint64 {
		v, err := r.Resources.Get(resource.ID(connID), resource.KindTcpConn)
		if err != nil {
			r.throwHostError(err)
		}
		conn := v.(net.Conn)
		return r.asyncFS(func(ctx context.Context) (any, error) {
			n, err := conn.Write(data)
			if err != nil {
				return nil, errs.Wrap(errs.Network, "write", err)
			}
			return n, nil
		})
	})
	t.Set("close", func(handleID uint64) {
		if err := r.Resources.Drop(resource.ID(handleID)); err != nil {
			r.throwHostError(err)
		}
	})
	host.Set("tcp", t)

	r.bindHTTPServe(host)
}

// bindHTTPServe wires pkg/serve's Server onto HOST.http. The script
// supplies a single dispatch callback; each request is handed to it on
// the script thread via pkg/eventloop exactly as serve.Handler requires.
func (r *Runtime) bindHTTPServe(host *goja.Object) {
	h := r.VM.NewObject()
	h.Set("serve", func(addr string, dispatch func(req *serve.Request) *serve.ResponseWriter) uint64 {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			r.throwHostError(errs.Wrap(errs.Network, "serve: listen", err))
		}
		srv := serve.New(ln, serve.Handler(dispatch), r.Loop, r.Log)
		r.Loop.KeepAlive()
		go func() {
			defer r.Loop.Release()
			srv.Serve(context.Background())
		}()
		return uint64(r.Resources.Insert(resource.KindTcpListener, srv))
	})
	h.Set("close", func(serverID uint64) {
		v, err := r.Resources.Get(resource.ID(serverID), resource.KindTcpListener)
		if err != nil {
			r.throwHostError(err)
		}
		srv := v.(*serve.Server)
		if err := srv.Close(); err != nil {
			r.throwHostError(err)
		}
		r.Resources.Drop(resource.ID(serverID))
	})
	h.Set("connectionCount", func(serverID uint64) int64 {
		v, err := r.Resources.Get(resource.ID(serverID), resource.KindTcpListener)
		if err != nil {
			r.throwHostError(err)
		}
		return v.(*serve.Server).ConnectionCount()
	})
	host.Set("http", h)
}

// fileStat is the plain-data shape HOST.fs.stat/lstat hand back to script,
// marshaled by goja into a plain JS object.
type fileStat struct {
	Size    int64
	IsDir   bool
	Mode    uint32
	ModTime int64 // unix millis
}

func statOf(info os.FileInfo) fileStat {
	return fileStat{
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		Mode:    uint32(info.Mode()),
		ModTime: info.ModTime().UnixMilli(),
	}
}

func (r *Runtime) canvasAt(ctxID uint64) *canvas.Context {
	v, err := r.Resources.Get(resource.ID(ctxID), resource.KindCanvasCtx)
	if err != nil {
		r.throwHostError(err)
	}
	return v.(*canvas.Context)
}

func rgba(hexOrName uint32) color.RGBA {
	return color.RGBA{
		R: uint8(hexOrName >> 24),
		G: uint8(hexOrName >> 16),
		B: uint8(hexOrName >> 8),
		A: uint8(hexOrName),
	}
}

// bindCanvas wires the 2D canvas and ImageBitmap surface onto
// HOST.canvas, tracking each context/bitmap in the resource table under
// KindCanvasCtx/KindImageBitmap.
func (r *Runtime) bindCanvas(host *goja.Object) {
	cv := r.VM.NewObject()
	cv.Set("createContext", func(width, height int) uint64 {
		return uint64(r.Resources.Insert(resource.KindCanvasCtx, canvas.NewContext(width, height)))
	})
	cv.Set("close", func(ctxID uint64) { r.Resources.Drop(resource.ID(ctxID)) })
	cv.Set("width", func(ctxID uint64) int { return r.canvasAt(ctxID).Width() })
	cv.Set("height", func(ctxID uint64) int { return r.canvasAt(ctxID).Height() })
	cv.Set("save", func(ctxID uint64) { r.canvasAt(ctxID).Save() })
	cv.Set("restore", func(ctxID uint64) { r.canvasAt(ctxID).Restore() })
	cv.Set("setFillStyle", func(ctxID uint64, rgbaHex uint32) { r.canvasAt(ctxID).SetFillStyle(rgba(rgbaHex)) })
	cv.Set("setStrokeStyle", func(ctxID uint64, rgbaHex uint32) { r.canvasAt(ctxID).SetStrokeStyle(rgba(rgbaHex)) })
	cv.Set("setLineWidth", func(ctxID uint64, w float64) { r.canvasAt(ctxID).SetLineWidth(w) })
	cv.Set("setGlobalAlpha", func(ctxID uint64, a float64) { r.canvasAt(ctxID).SetGlobalAlpha(a) })
	cv.Set("translate", func(ctxID uint64, dx, dy float64) { r.canvasAt(ctxID).Translate(dx, dy) })
	cv.Set("scale", func(ctxID uint64, sx, sy float64) { r.canvasAt(ctxID).Scale(sx, sy) })
	cv.Set("rotate", func(ctxID uint64, radians float64) { r.canvasAt(ctxID).Rotate(radians) })
	cv.Set("beginPath", func(ctxID uint64) { r.canvasAt(ctxID).BeginPath() })
	cv.Set("moveTo", func(ctxID uint64, x, y float64) { r.canvasAt(ctxID).MoveTo(x, y) })
	cv.Set("lineTo", func(ctxID uint64, x, y float64) { r.canvasAt(ctxID).LineTo(x, y) })
	cv.Set("rect", func(ctxID uint64, x, y, w, h float64) { r.canvasAt(ctxID).Rect(x, y, w, h) })
	cv.Set("arc", func(ctxID uint64, cx, cy, radius, start, end float64, ccw bool) {
		r.canvasAt(ctxID).Arc(cx, cy, radius, start, end, ccw)
	})
	cv.Set("closePath", func(ctxID uint64) { r.canvasAt(ctxID).ClosePath() })
	cv.Set("fill", func(ctxID uint64) { r.canvasAt(ctxID).Fill() })
	cv.Set("stroke", func(ctxID uint64) { r.canvasAt(ctxID).Stroke() })
	cv.Set("createLinearGradient", func(x0, y0, x1, y1 float64) *canvas.Gradient {
		return &canvas.Gradient{X0: x0, Y0: y0, X1: x1, Y1: y1}
	})
	cv.Set("addColorStop", func(g *canvas.Gradient, offset float64, rgbaHex uint32) {
		g.AddColorStop(offset, rgba(rgbaHex))
	})
	cv.Set("fillGradient", func(ctxID uint64, g *canvas.Gradient) { r.canvasAt(ctxID).FillGradient(g) })
	cv.Set("saveAsPng", func(ctxID uint64, path string) {
		if err := r.canvasAt(ctxID).SaveAsPNG(path); err != nil {
			r.throwHostError(err)
		}
	})
	cv.Set("render", func(ctxID uint64) []byte {
		data, err := r.canvasAt(ctxID).EncodePNG()
		if err != nil {
			r.throwHostError(err)
		}
		return data
	})

	cv.Set("loadImageBitmap", func(path string) uint64 {
		bmp, err := canvas.LoadImageBitmap(path)
		if err != nil {
			r.throwHostError(err)
		}
		return uint64(r.Resources.Insert(resource.KindImageBitmap, bmp))
	})
	cv.Set("imageBitmapWidth", func(bitmapID uint64) int {
		v, err := r.Resources.Get(resource.ID(bitmapID), resource.KindImageBitmap)
		if err != nil {
			r.throwHostError(err)
		}
		return v.(*canvas.ImageBitmap).Width()
	})
	cv.Set("imageBitmapHeight", func(bitmapID uint64) int {
		v, err := r.Resources.Get(resource.ID(bitmapID), resource.KindImageBitmap)
		if err != nil {
			r.throwHostError(err)
		}
		return v.(*canvas.ImageBitmap).Height()
	})
	cv.Set("drawImage", func(ctxID, bitmapID uint64, x, y int) {
		v, err := r.Resources.Get(resource.ID(bitmapID), resource.KindImageBitmap)
		if err != nil {
			r.throwHostError(err)
		}
		r.canvasAt(ctxID).DrawImage(v.(*canvas.ImageBitmap), x, y)
	})
	cv.Set("closeImageBitmap", func(bitmapID uint64) { r.Resources.Drop(resource.ID(bitmapID)) })

	host.Set("canvas", cv)
}
