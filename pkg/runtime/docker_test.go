package runtime

import (
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lmdudester/Garcon/pkg/types"
)

func TestContainerName(t *testing.T) {
	assert.Equal(t, "garcon-alpha-1a2b3c4d5e", containerName("alpha-1a2b3c4d5e"))
}

func TestMergeEnvServerOverridesTemplate(t *testing.T) {
	tpl := &types.Template{
		Container: &types.ContainerConfig{
			Env: map[string]string{"JVM_HEAP": "2G", "EULA": "TRUE"},
		},
	}
	cfg := &types.ServerConfig{
		Env: map[string]string{"JVM_HEAP": "4G", "MOTD": "welcome"},
	}

	merged := mergeEnv(tpl, cfg)
	assert.Equal(t, "4G", merged["JVM_HEAP"])
	assert.Equal(t, "TRUE", merged["EULA"])
	assert.Equal(t, "welcome", merged["MOTD"])
}

func TestEnvListPinsHomeToMountPath(t *testing.T) {
	env := map[string]string{"B": "2", "A": "1", "HOME": "/elsewhere"}

	list := envList(env, "/data")
	require.NotEmpty(t, list)
	assert.Equal(t, "HOME=/data", list[0], "game saves must land inside the bind mount")
	assert.Equal(t, []string{"HOME=/data", "A=1", "B=2"}, list)
}

func TestExpandPlaceholders(t *testing.T) {
	env := map[string]string{"JVM_HEAP": "4G", "WORLD": "alpha"}

	out := expandPlaceholders("java -Xms{JVM_HEAP} -Xmx{JVM_HEAP} -jar server.jar nogui", env)
	assert.Equal(t, "java -Xms4G -Xmx4G -jar server.jar nogui", out)

	// Unknown placeholders pass through untouched
	out = expandPlaceholders("run {MISSING}", env)
	assert.Equal(t, "run {MISSING}", out)
}

func TestPortBindings(t *testing.T) {
	exposed, bindings, err := portBindings([]types.PortMapping{
		{HostPort: 25565, ContainerPort: 25565, Protocol: "tcp"},
		{HostPort: 2456, ContainerPort: 2456, Protocol: "udp"},
	})
	require.NoError(t, err)

	assert.Contains(t, exposed, nat.Port("25565/tcp"))
	assert.Contains(t, exposed, nat.Port("2456/udp"))

	tcp := bindings[nat.Port("25565/tcp")]
	require.Len(t, tcp, 1)
	assert.Equal(t, "25565", tcp[0].HostPort)
}

func TestMountBinds(t *testing.T) {
	binds := mountBinds("/srv/garcon/servers/alpha-1a2b3c4d5e", "/data", []types.MountSpec{
		{HostPath: "mods", ContainerPath: "/mods"},
		{HostPath: "/etc/localtime", ContainerPath: "/etc/localtime", ReadOnly: true},
	})

	assert.Equal(t, []string{
		"/srv/garcon/servers/alpha-1a2b3c4d5e:/data",
		"/srv/garcon/servers/alpha-1a2b3c4d5e/mods:/mods",
		"/etc/localtime:/etc/localtime:ro",
	}, binds)
}
