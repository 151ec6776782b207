//go:build linux && cgo

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// clientSource is a small host program exercising the intercepted calls.
const clientSource = `
#include <arpa/inet.h>
#include <errno.h>
#include <netinet/in.h>
#include <stdio.h>
#include <stdlib.h>
#include <string.h>
#include <sys/socket.h>
#include <sys/wait.h>
#include <unistd.h>

static struct sockaddr_in inet4(const char *ip, int port) {
	struct sockaddr_in sa;
	memset(&sa, 0, sizeof(sa));
	sa.sin_family = AF_INET;
	sa.sin_port = htons(port);
	inet_pton(AF_INET, ip, &sa.sin_addr);
	return sa;
}

static void try_connect(const char *label, const char *ip, int port) {
	struct sockaddr_in sa = inet4(ip, port);
	struct sockaddr_in peer;
	socklen_t plen = sizeof(peer);
	int fd = socket(AF_INET, SOCK_STREAM, 0);
	int r, err;

	if (fd < 0) {
		printf("%s socket errno=%d\n", label, errno);
		return;
	}
	errno = 0;
	r = connect(fd, (struct sockaddr *)&sa, sizeof(sa));
	err = r < 0 ? errno : 0;
	printf("%s connect=%d errno=%d\n", label, r, err);
	if (err == EACCES) {
		r = getpeername(fd, (struct sockaddr *)&peer, &plen);
		printf("%s peer errno=%d\n", label, r < 0 ? errno : 0);
	}
	close(fd);
}

int main(int argc, char **argv) {
	const char *mode = argv[1];

	setvbuf(stdout, NULL, _IONBF, 0);
	if (strcmp(mode, "connect") == 0) {
		try_connect("denied", argv[2], atoi(argv[3]));
		try_connect("refused", "127.0.0.1", atoi(argv[4]));
		return 0;
	}
	if (strcmp(mode, "sendto") == 0) {
		struct sockaddr_in sa = inet4("127.0.0.1", atoi(argv[2]));
		int fd = socket(AF_INET, SOCK_DGRAM, 0);
		if (connect(fd, (struct sockaddr *)&sa, sizeof(sa)) < 0) {
			printf("connect errno=%d\n", errno);
			return 1;
		}
		printf("sendto=%zd\n", sendto(fd, "ping", 4, 0, NULL, 0));
		return 0;
	}
	if (strcmp(mode, "fork") == 0) {
		int status = 0;
		pid_t pid = fork();
		if (pid == 0) {
			int fd = socket(AF_INET, SOCK_DGRAM, 0);
			printf("child socket=%s\n", fd >= 0 ? "ok" : "failed");
			try_connect("child denied", argv[2], atoi(argv[3]));
			try_connect("child refused", "127.0.0.1", atoi(argv[4]));
			_exit(0);
		}
		waitpid(pid, &status, 0);
		printf("parent child-exit=%d\n", WIFEXITED(status) ? WEXITSTATUS(status) : -1);
		try_connect("parent denied", argv[2], atoi(argv[3]));
		return 0;
	}
	return 2;
}
`

type preloadHarness struct {
	lib    string
	client string
}

func buildHarness(t *testing.T) preloadHarness {
	t.Helper()
	if testing.Short() {
		t.Skip("builds the c-shared library")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not in PATH")
	}
	cc := os.Getenv("CC")
	if cc == "" {
		cc = "cc"
	}
	if _, err := exec.LookPath(cc); err != nil {
		t.Skipf("C compiler %q not found", cc)
	}

	dir := t.TempDir()
	h := preloadHarness{
		lib:    filepath.Join(dir, "libdshield.so"),
		client: filepath.Join(dir, "client"),
	}

	out, err := exec.Command(goBin, "build", "-buildmode=c-shared", "-o", h.lib, ".").CombinedOutput()
	require.NoError(t, err, string(out))

	src := filepath.Join(dir, "client.c")
	require.NoError(t, os.WriteFile(src, []byte(clientSource), 0o644))
	out, err = exec.Command(cc, "-o", h.client, src).CombinedOutput()
	require.NoError(t, err, string(out))
	return h
}

// run executes the client under the preload with env added to the
// current environment.
func (h preloadHarness) run(t *testing.T, env map[string]string, args ...string) (stdout, stderr string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.client, args...)
	cmd.Env = append(os.Environ(), "LD_PRELOAD="+h.lib)
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	require.NoError(t, ctx.Err(), "client hung; stdout=%q", outBuf.String())
	require.NoError(t, err, "stdout=%q stderr=%q", outBuf.String(), errBuf.String())
	return outBuf.String(), errBuf.String()
}

func closedLoopbackPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestPreloadABI(t *testing.T) {
	h := buildHarness(t)

	const denied = "198.51.100.7"
	eacces := fmt.Sprintf("errno=%d", int(unix.EACCES))
	refused := fmt.Sprintf("errno=%d", int(unix.ECONNREFUSED))
	notconn := fmt.Sprintf("peer errno=%d", int(unix.ENOTCONN))

	t.Run("connect", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "dshield.log")
		port := closedLoopbackPort(t)

		out, _ := h.run(t, map[string]string{"DSHIELD_LOG_FILE": logPath},
			"connect", denied, "80", strconv.Itoa(port))

		assert.Contains(t, out, "denied connect=-1 "+eacces+"\n")
		assert.Contains(t, out, "denied "+notconn+"\n", "denied connect must not reach the kernel")
		assert.Contains(t, out, "refused connect=-1 "+refused+"\n", "authentic errno passes through")

		require.Equal(t, []string{
			"[DSHIELD] BLOCKED: " + denied + ":80",
			"[DSHIELD] ALLOWED: 127.0.0.1:" + strconv.Itoa(port),
		}, readLines(t, logPath))
	})

	t.Run("sendto without destination", func(t *testing.T) {
		pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
		require.NoError(t, err)
		defer pc.Close()
		port := pc.LocalAddr().(*net.UDPAddr).Port

		out, _ := h.run(t, nil, "sendto", strconv.Itoa(port))
		assert.Contains(t, out, "sendto=4\n")

		require.NoError(t, pc.SetReadDeadline(time.Now().Add(5*time.Second)))
		buf := make([]byte, 16)
		n, _, err := pc.ReadFrom(buf)
		require.NoError(t, err)
		assert.Equal(t, "ping", string(buf[:n]))
	})

	t.Run("fork child", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "dshield.log")
		port := closedLoopbackPort(t)

		out, stderr := h.run(t, map[string]string{
			"DSHIELD_LOG_FILE": logPath,
			"DSHIELD_DEBUG":    "1",
		}, "fork", denied, "80", strconv.Itoa(port))

		assert.Contains(t, out, "child socket=ok\n")
		assert.Contains(t, out, "child denied connect=-1 "+eacces+"\n")
		assert.Contains(t, out, "child denied "+notconn+"\n")
		assert.Contains(t, out, "child refused connect=-1 "+refused+"\n")
		assert.Contains(t, out, "parent child-exit=0\n")
		assert.Contains(t, out, "parent denied connect=-1 "+eacces+"\n")

		assert.Contains(t, stderr, "[DSHIELD] socket(domain=2, type=2, protocol=0)\n")
		for _, line := range strings.Split(strings.TrimSuffix(stderr, "\n"), "\n") {
			assert.True(t, strings.HasPrefix(line, "[DSHIELD] "), "untagged stderr line %q", line)
		}

		require.Equal(t, []string{
			"[DSHIELD] BLOCKED: " + denied + ":80",
			"[DSHIELD] ALLOWED: 127.0.0.1:" + strconv.Itoa(port),
			"[DSHIELD] BLOCKED: " + denied + ":80",
		}, readLines(t, logPath))
	})
}
