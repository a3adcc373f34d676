package template

import (
	"github.com/Lmdudester/Garcon/pkg/types"
)

// builtinTemplates returns the templates seeded on first boot. Each is
// written to the template directory only when no document with the
// same id exists, so operators can edit the files freely afterwards.
func builtinTemplates() []*types.Template {
	return []*types.Template{
		{
			ID:          "minecraft",
			Name:        "Minecraft Java Server",
			Description: "Java-edition server run from an imported directory containing server.jar",
			Mode:        types.ModeContainer,
			Container: &types.ContainerConfig{
				Image:     "eclipse-temurin:21-jre",
				MountPath: "/data",
				Env: map[string]string{
					"JVM_HEAP": "2G",
				},
			},
			Execution: types.ExecutionConfig{
				Command:     "java -Xms{JVM_HEAP} -Xmx{JVM_HEAP} -jar server.jar nogui",
				StopTimeout: 60,
				RCON: &types.RCONConfig{
					Enabled:         false,
					Port:            25575,
					ShutdownCommand: "stop",
				},
			},
			Ports: []types.PortSpec{
				{ContainerPort: 25565, Protocol: "tcp", Description: "Game port", UserFacing: true},
				{ContainerPort: 25575, Protocol: "tcp", Description: "RCON"},
			},
			RequiredFiles: []string{"server.jar"},
		},
		{
			ID:          "valheim",
			Name:        "Valheim Dedicated Server",
			Description: "Valheim server with imported world and configuration",
			Mode:        types.ModeContainer,
			Container: &types.ContainerConfig{
				Image:     "lloesche/valheim-server:latest",
				MountPath: "/config",
				Env: map[string]string{
					"SERVER_NAME":   "Garcon Valheim",
					"WORLD_NAME":    "Dedicated",
					"SERVER_PUBLIC": "false",
				},
			},
			Execution: types.ExecutionConfig{
				StopTimeout: 120,
			},
			Ports: []types.PortSpec{
				{ContainerPort: 2456, Protocol: "udp", Description: "Game port", UserFacing: true},
				{ContainerPort: 2457, Protocol: "udp", Description: "Query port"},
				{ContainerPort: 2458, Protocol: "udp", Description: "Steam port"},
			},
		},
		{
			ID:          "vrising",
			Name:        "V Rising Dedicated Server",
			Description: "Windows-native V Rising server; RCON credentials come from the server's own settings file",
			Mode:        types.ModeNative,
			Execution: types.ExecutionConfig{
				Executable:  "VRisingServer.exe",
				Args:        []string{"-persistentDataPath", ".\\save-data"},
				StopTimeout: 60,
				RCON: &types.RCONConfig{
					Enabled:         true,
					Port:            25575,
					ShutdownCommand: "shutdown",
					SettingsFile:    "ServerHostSettings.json",
				},
			},
			Ports: []types.PortSpec{
				{ContainerPort: 9876, Protocol: "udp", Description: "Game port", UserFacing: true},
				{ContainerPort: 9877, Protocol: "udp", Description: "Query port"},
			},
			RequiredFiles: []string{"VRisingServer.exe"},
		},
		{
			ID:          "terraria",
			Name:        "Terraria Server",
			Description: "Terraria dedicated server with imported worlds",
			Mode:        types.ModeContainer,
			Container: &types.ContainerConfig{
				Image:     "ryshe/terraria:latest",
				MountPath: "/world",
			},
			Execution: types.ExecutionConfig{
				StopTimeout: 30,
			},
			Ports: []types.PortSpec{
				{ContainerPort: 7777, Protocol: "tcp", Description: "Game port", UserFacing: true},
			},
		},
	}
}
