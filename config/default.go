package config

import (
	"fmt"
	"net/http"

	yaml3 "gopkg.in/yaml.v3"
	"sigs.k8s.io/kustomize/kyaml/yaml"
	"sigs.k8s.io/kustomize/kyaml/yaml/merge2"
	"sigs.k8s.io/kustomize/kyaml/yaml/walk"
)

// defaultConfig is the configuration the config command writes out. It is a
// variable so that distributions can ship other defaults.
var defaultConfig = fmt.Sprintf(`
path: ""
debug: false
debugModules:
  include: []
  exclude: []
disableANSI: false
server:
  addr: ":8443"
  accessLog: true
  tls:
    enabled: true
    certFile: ""
    keyFile: ""
    selfSigned: true
    hosts: []
    handshakeTimeout: 10s
    disableHTTP2: false
http1:
  maxHeaderBytes: %d
  keepAlive: true
http2:
  maxConcurrentStreams: 250
  maxFrameSize: 16384
  initialWindowSize: 1048576
  connWindowSize: 4194304
  maxHeaderListSize: %d
configPath: ""
`, http.DefaultMaxHeaderBytes, http.DefaultMaxHeaderBytes)

func GetDefaultConfig() string {
	return defaultConfig
}

func SetDefaultConfig(cfgStr string) {
	defaultConfig = cfgStr
}

// InternalConfig holds settings that are not written to user config files.
const InternalConfig = `
http1:
  maxDrainBytes: 262144
  readChunkSize: 32768
`

func New() *Config {
	// merge default config with internal config
	mergedConfig, err := Merge(defaultConfig, InternalConfig)
	if err != nil {
		panic(err)
	}
	config := &Config{}
	err = yaml3.Unmarshal([]byte(mergedConfig), config)
	if err != nil {
		panic(err)
	}
	return config
}

func Merge(srcStr, destStr string) (string, error) {
	return mergeStrings(srcStr, destStr, false, yaml.MergeOptions{})
}

// Reference: https://github.com/kubernetes-sigs/kustomize/blob/537c4fa5c2bf3292b273876f50c62ce1c81714d7/kyaml/yaml/merge2/merge2.go#L24
// VisitKeysAsScalars is set to true to enable merging comments.
// inferAssociativeLists is set to false to disable merging associative lists.
func mergeStrings(srcStr, destStr string, infer bool, mergeOptions yaml.MergeOptions) (string, error) {
	src, err := yaml.Parse(srcStr)
	if err != nil {
		return "", err
	}

	dest, err := yaml.Parse(destStr)
	if err != nil {
		return "", err
	}

	result, err := walk.Walker{
		Sources:               []*yaml.RNode{dest, src},
		Visitor:               merge2.Merger{},
		InferAssociativeLists: infer,
		VisitKeysAsScalars:    true,
		MergeOptions:          mergeOptions,
	}.Walk()
	if err != nil {
		return "", err
	}

	return result.String()
}
