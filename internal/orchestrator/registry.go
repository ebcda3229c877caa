package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
)

var (
	current ContainerOrchestrator
	mu      sync.RWMutex
)

// InitOrchestrator selects and initializes a backend according to
// backendPref ("auto", "docker", or "kubernetes"), trying Docker first
// since it is the gateway's primary backend and Kubernetes is a
// supplemental alternative for clustered deployments.
func InitOrchestrator(ctx context.Context, backendPref string) error {
	if backendPref == "" {
		backendPref = "auto"
	}

	if backendPref == "auto" || backendPref == "docker" {
		docker := &DockerOrchestrator{}
		if err := docker.Initialize(ctx); err == nil && docker.IsAvailable(ctx) {
			mu.Lock()
			current = docker
			mu.Unlock()
			log.Println("orchestrator: using docker backend")
			return nil
		} else if err != nil {
			log.Printf("docker backend unavailable: %v", err)
		}
	}

	if backendPref == "auto" || backendPref == "kubernetes" {
		k8s := &KubernetesOrchestrator{}
		if err := k8s.Initialize(ctx); err == nil && k8s.IsAvailable(ctx) {
			mu.Lock()
			current = k8s
			mu.Unlock()
			log.Println("orchestrator: using kubernetes backend")
			return nil
		} else if err != nil {
			log.Printf("kubernetes backend unavailable: %v", err)
		}
	}

	log.Println("warning: no orchestrator backend available")
	return fmt.Errorf("no orchestrator backend available (tried: %s)", backendPref)
}

// Get returns the active backend selected by InitOrchestrator.
func Get() ContainerOrchestrator {
	mu.RLock()
	defer mu.RUnlock()
	return current
}
