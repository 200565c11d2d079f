package configuration

import (
	"encoding/json"
	"os"
)

type MongoConfig struct {
	Uri                   string `json:"uri"`
	Database              string `json:"database"`
	MessagesCollection    string `json:"messagesCollection"`
	MembershipsCollection string `json:"membershipsCollection"`
	SocketRoute           string `json:"socketRoute"`
}

type ServerConfig struct {
	AppPort    int `json:"app_port"`
	SocketPort int `json:"socket_port"`
}

type AuthConfig struct {
	JwtSecret string `json:"jwt_secret"`
}

type Config struct {
	ChatDatabase   MongoConfig  `json:"mongo"`
	Server         ServerConfig `json:"server"`
	Auth           AuthConfig   `json:"auth"`
	AllowedOrigins []string     `json:"allowed_origins"`
}

func LoadConfig(config_path string) (*Config, error) {
	file, err := os.ReadFile(config_path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = json.Unmarshal(file, &config)
	if err != nil {
		return nil, err
	}

	return &config, nil
}
