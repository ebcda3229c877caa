package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/client-go/util/homedir"

	"github.com/theykk/agentman-gateway/internal/gwerrors"
)

// KubernetesOrchestrator is a supplemental backend that runs one pod per
// workspace instead of one container, for clustered deployments. It
// implements the same narrow ContainerOrchestrator surface as Docker;
// "workspace" concepts (host bind mount, security hardening) map onto pod
// spec fields rather than HostConfig.
type KubernetesOrchestrator struct {
	clientset  *kubernetes.Clientset
	restConfig *rest.Config
	namespace  string
	available  bool
}

// NewKubernetesOrchestrator configures the target namespace; Initialize
// still does the actual connection.
func NewKubernetesOrchestrator(namespace string) *KubernetesOrchestrator {
	if namespace == "" {
		namespace = "default"
	}
	return &KubernetesOrchestrator{namespace: namespace}
}

func (k *KubernetesOrchestrator) Initialize(ctx context.Context) error {
	if k.namespace == "" {
		k.namespace = "default"
	}

	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := clientcmd.NewDefaultClientConfigLoadingRules().GetDefaultFilename()
		if home := homedir.HomeDir(); home != "" && kubeconfig == "" {
			kubeconfig = home + "/.kube/config"
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return fmt.Errorf("kubernetes config: %w", err)
		}
	}

	k.restConfig = cfg
	k.clientset, err = kubernetes.NewForConfig(cfg)
	if err != nil {
		return fmt.Errorf("kubernetes clientset: %w", err)
	}

	if _, err := k.clientset.CoreV1().Namespaces().Get(ctx, k.namespace, metav1.GetOptions{}); err != nil {
		return fmt.Errorf("kubernetes namespace %s check: %w", k.namespace, err)
	}

	k.available = true
	return nil
}

func (k *KubernetesOrchestrator) IsAvailable(_ context.Context) bool { return k.available }
func (k *KubernetesOrchestrator) BackendName() string                { return "kubernetes" }

func (k *KubernetesOrchestrator) pods() typedcorev1.PodInterface {
	return k.clientset.CoreV1().Pods(k.namespace)
}

// EnsureContainer creates a pod named params.Name if absent, reusing it
// otherwise. Kubernetes has no "stopped but present" pod state worth
// restarting in place, so an existing Failed/Succeeded pod is recreated.
func (k *KubernetesOrchestrator) EnsureContainer(ctx context.Context, params CreateParams) (string, string, error) {
	existing, err := k.pods().Get(ctx, params.Name, metav1.GetOptions{})
	if err == nil {
		switch existing.Status.Phase {
		case corev1.PodRunning, corev1.PodPending:
			return string(existing.UID), existing.Name, nil
		}
		if delErr := k.pods().Delete(ctx, params.Name, metav1.DeleteOptions{}); delErr != nil && !apierrors.IsNotFound(delErr) {
			return "", "", gwerrors.Wrap(delErr, "delete stale pod %s", params.Name)
		}
	} else if !apierrors.IsNotFound(err) {
		return "", "", gwerrors.Wrap(err, "get pod %s", params.Name)
	}

	pod := buildWorkspacePod(params, k.namespace)
	created, err := k.pods().Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return "", "", gwerrors.Wrap(err, "create pod %s", params.Name)
	}
	log.Printf("created pod %s in namespace %s", params.Name, k.namespace)
	return string(created.UID), created.Name, nil
}

// buildWorkspacePod maps CreateParams onto a single-container pod with a
// hostPath volume at /workspace and the same security posture Docker
// applies (never privileged, drop-all capabilities, readonly rootfs).
func buildWorkspacePod(params CreateParams, namespace string) *corev1.Pod {
	labels := map[string]string{
		labelManaged:  "true",
		labelIdentity: params.Identity,
		labelProject:  params.Project,
	}
	for k, v := range params.Labels {
		labels[k] = v
	}

	env := make([]corev1.EnvVar, 0, len(params.Env)+1)
	for k, v := range params.Env {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}
	env = append(env, corev1.EnvVar{Name: "AGENTMAN_CONTAINER_ID", Value: params.Name})

	hostPathType := corev1.HostPathDirectoryOrCreate
	falseVal := false

	sc := &corev1.SecurityContext{
		Privileged:               &falseVal,
		AllowPrivilegeEscalation: boolPtrK8s(!params.Security.NoNewPrivileges),
		ReadOnlyRootFilesystem:   &params.Security.ReadonlyRootfs,
	}
	if params.Security.CapDropAll {
		sc.Capabilities = &corev1.Capabilities{Drop: []corev1.Capability{"ALL"}}
		for _, c := range params.Security.CapAdd {
			sc.Capabilities.Add = append(sc.Capabilities.Add, corev1.Capability(c))
		}
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      params.Name,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Volumes: []corev1.Volume{{
				Name: "workspace",
				VolumeSource: corev1.VolumeSource{
					HostPath: &corev1.HostPathVolumeSource{
						Path: params.HostPath,
						Type: &hostPathType,
					},
				},
			}},
			Containers: []corev1.Container{{
				Name:            "workspace",
				Image:           params.Image,
				Env:             env,
				WorkingDir:      workspaceMountPoint,
				Stdin:           true,
				TTY:             true,
				SecurityContext: sc,
				VolumeMounts: []corev1.VolumeMount{{
					Name:      "workspace",
					MountPath: workspaceMountPoint,
				}},
			}},
		},
	}
}

func boolPtrK8s(b bool) *bool { return &b }

func (k *KubernetesOrchestrator) FindByLabels(ctx context.Context, identity, project string) ([]string, error) {
	list, err := k.pods().List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=true,%s=%s,%s=%s", labelManaged, labelIdentity, identity, labelProject, project),
	})
	if err != nil {
		return nil, gwerrors.Wrap(err, "list pods")
	}
	out := make([]string, 0, len(list.Items))
	for _, p := range list.Items {
		out = append(out, p.Name)
	}
	return out, nil
}

// ListManaged lists every agentman-managed pod, for reconcile's orphan
// sweep.
func (k *KubernetesOrchestrator) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	list, err := k.pods().List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=true", labelManaged),
	})
	if err != nil {
		return nil, gwerrors.Wrap(err, "list pods")
	}
	out := make([]ManagedContainer, 0, len(list.Items))
	for _, p := range list.Items {
		out = append(out, ManagedContainer{
			ID:       p.Name,
			Identity: p.Labels[labelIdentity],
			Project:  p.Labels[labelProject],
		})
	}
	return out, nil
}

func (k *KubernetesOrchestrator) Status(ctx context.Context, nameOrID string) (Status, error) {
	pod, err := k.pods().Get(ctx, nameOrID, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return StatusMissing, nil
		}
		return StatusError, gwerrors.Wrap(err, "get pod %s", nameOrID)
	}
	switch pod.Status.Phase {
	case corev1.PodRunning:
		return StatusRunning, nil
	case corev1.PodPending:
		return StatusStopped, nil
	default:
		return StatusStopped, nil
	}
}

// Stop deletes the pod; Kubernetes has no pause/stop-in-place primitive for
// a bare pod, so stop and remove converge on the same delete-and-recreate
// semantics here.
func (k *KubernetesOrchestrator) Stop(ctx context.Context, nameOrID string, graceSeconds int) error {
	grace := int64(graceSeconds)
	err := k.pods().Delete(ctx, nameOrID, metav1.DeleteOptions{GracePeriodSeconds: &grace})
	if err != nil && !apierrors.IsNotFound(err) {
		return gwerrors.Wrap(err, "delete pod %s", nameOrID)
	}
	return nil
}

// Pause/Unpause have no pod-level equivalent; both always return a
// ValidationError and leave the pod as it is.
func (k *KubernetesOrchestrator) Pause(ctx context.Context, nameOrID string) error {
	return gwerrors.ValidationError("kubernetes backend does not support pause; use stop")
}

func (k *KubernetesOrchestrator) Unpause(ctx context.Context, nameOrID string) error {
	return gwerrors.ValidationError("kubernetes backend does not support unpause; use ensure-container")
}

func (k *KubernetesOrchestrator) Remove(ctx context.Context, nameOrID string, force bool) error {
	var grace *int64
	if force {
		zero := int64(0)
		grace = &zero
	}
	err := k.pods().Delete(ctx, nameOrID, metav1.DeleteOptions{GracePeriodSeconds: grace})
	if err != nil && !apierrors.IsNotFound(err) {
		return gwerrors.Wrap(err, "delete pod %s", nameOrID)
	}
	return nil
}

func (k *KubernetesOrchestrator) Exec(ctx context.Context, nameOrID string, spec ExecSpec) (*ExecStream, error) {
	req := k.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(nameOrID).
		Namespace(k.namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: spec.Cmd,
			Env:     envNames(spec.Env),
			Stdin:   true,
			Stdout:  true,
			Stderr:  !spec.TTY,
			TTY:     spec.TTY,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(k.restConfig, "POST", req.URL())
	if err != nil {
		return nil, gwerrors.Wrap(err, "create kubernetes executor for %s", nameOrID)
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	var stderrR *io.PipeReader
	var stderrW *io.PipeWriter
	if !spec.TTY {
		stderrR, stderrW = io.Pipe()
	}

	sizeCh := make(chan remotecommand.TerminalSize, 1)
	if spec.TTY {
		sizeCh <- remotecommand.TerminalSize{Width: 80, Height: 24}
	}

	go func() {
		defer stdoutW.Close()
		if stderrW != nil {
			defer stderrW.Close()
		}
		opts := remotecommand.StreamOptions{
			Stdin:  stdinR,
			Stdout: stdoutW,
			Tty:    spec.TTY,
		}
		if spec.TTY {
			opts.TerminalSizeQueue = &k8sTermSizeQueue{ch: sizeCh}
		} else {
			opts.Stderr = stderrW
		}
		if err := exec.StreamWithContext(ctx, opts); err != nil {
			log.Printf("kubernetes exec stream for %s ended: %v", nameOrID, err)
		}
	}()

	stream := &ExecStream{
		Stdin:  stdinW,
		Stdout: stdoutR,
		ExecID: nameOrID,
		Resize: func(ctx context.Context, cols, rows uint16) error {
			select {
			case <-sizeCh:
			default:
			}
			sizeCh <- remotecommand.TerminalSize{Width: cols, Height: rows}
			return nil
		},
		Close: func() error {
			close(sizeCh)
			stdinW.Close()
			return nil
		},
	}
	if stderrR != nil {
		stream.Stderr = stderrR
	}
	return stream, nil
}

func envNames(env []string) []corev1.EnvVar {
	out := make([]corev1.EnvVar, 0, len(env))
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out = append(out, corev1.EnvVar{Name: kv[:i], Value: kv[i+1:]})
				break
			}
		}
	}
	return out
}

// k8sTermSizeQueue implements remotecommand.TerminalSizeQueue over a channel.
type k8sTermSizeQueue struct {
	ch chan remotecommand.TerminalSize
}

func (q *k8sTermSizeQueue) Next() *remotecommand.TerminalSize {
	size, ok := <-q.ch
	if !ok {
		return nil
	}
	return &size
}

// InspectExecRunning has no native Kubernetes equivalent (remotecommand
// exec has no separate inspect call); the pod's own phase is the closest
// analogue, so a running pod is reported as a running exec with exit 0.
func (k *KubernetesOrchestrator) InspectExecRunning(ctx context.Context, execID string) (bool, int, error) {
	pod, err := k.pods().Get(ctx, execID, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, -1, nil
		}
		return false, -1, gwerrors.Wrap(err, "get pod %s", execID)
	}
	return pod.Status.Phase == corev1.PodRunning, 0, nil
}

func (k *KubernetesOrchestrator) Stats(ctx context.Context, nameOrID string) (ContainerStats, error) {
	// The metrics.k8s.io API requires the metrics-server add-on, which is
	// not guaranteed to be installed; report zeroed stats rather than
	// failing the whole `agentman stats` call.
	return ContainerStats{}, nil
}

func (k *KubernetesOrchestrator) DiskUsage(ctx context.Context, hostPath string) (uint64, error) {
	return diskUsage(hostPath)
}
