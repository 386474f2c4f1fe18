package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/tabulon-ai/tabulon/internal/dataset"
	apperr "github.com/tabulon-ai/tabulon/internal/errors"
)

const (
	sandboxPort   = 8080
	podReadyWait  = 2 * time.Minute
	egressLabel   = "tabulon.ai/egress"
	sessionLabel  = "tabulon.ai/session"
	appLabel      = "app"
	appLabelValue = "tabulon-sandbox"
	nonRootUserID = int64(1000)
)

// PodConfig configures the Kubernetes backend.
type PodConfig struct {
	Namespace   string
	Image       string
	Timeout     time.Duration
	MemoryLimit int64 // bytes
	CPULimit    int   // whole CPUs
	MaxSteps    uint64
}

// Validate rejects unusable configuration.
func (c PodConfig) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("pod namespace cannot be empty")
	}
	if c.Image == "" {
		return fmt.Errorf("pod image cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("sandbox timeout must be positive, got %v", c.Timeout)
	}
	if c.MemoryLimit <= 0 {
		return fmt.Errorf("sandbox memory limit must be positive, got %d", c.MemoryLimit)
	}
	return nil
}

// PodSandbox executes programs in an orchestrated, auto-restarting pod with
// non-root execution, resource quotas, and a deny-by-default egress label.
// One pod and one service are created per session; the orchestrator is the
// backstop for crash cleanup.
type PodSandbox struct {
	clientset  kubernetes.Interface
	cfg        PodConfig
	httpClient *http.Client
	log        *slog.Logger

	sessionID string
	podName   string
	svcName   string

	mu      sync.Mutex
	started bool
}

// NewPodSandbox builds the Kubernetes backend. In-cluster configuration is
// preferred; the local kubeconfig is the fallback for development.
func NewPodSandbox(cfg PodConfig, log *slog.Logger) (*PodSandbox, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	restCfg, err := rest.InClusterConfig()
	if err != nil {
		loader := clientcmd.NewDefaultClientConfigLoadingRules()
		restCfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loader, nil).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load Kubernetes configuration: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	return newPodSandbox(clientset, cfg, log), nil
}

// newPodSandbox wires an explicit clientset; split out for tests.
func newPodSandbox(clientset kubernetes.Interface, cfg PodConfig, log *slog.Logger) *PodSandbox {
	session := uuid.NewString()[:8]
	return &PodSandbox{
		clientset:  clientset,
		cfg:        cfg,
		httpClient: &http.Client{},
		log:        log,
		sessionID:  session,
		podName:    "tabulon-sandbox-" + session,
		svcName:    "tabulon-sandbox-" + session,
	}
}

// Execute runs one artifact in the session pod, starting it on first use.
func (s *PodSandbox) Execute(ctx context.Context, artifact CodeArtifact, snapshot dataset.Snapshot) (Result, error) {
	if err := s.ensureStarted(ctx); err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(ExecRequest{
		Code:           artifact.Code,
		Frame:          snapshot,
		TimeoutSeconds: int(s.cfg.Timeout / time.Second),
		MaxSteps:       s.cfg.MaxSteps,
		SessionID:      s.sessionID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode execution request: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout+teardownGrace)
	defer cancel()

	url := fmt.Sprintf("http://%s.%s.svc.cluster.local:%d/execute", s.svcName, s.cfg.Namespace, sandboxPort)
	req, err := http.NewRequestWithContext(execCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build execution request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if execCtx.Err() == context.DeadlineExceeded {
			// Hung execution: restart the pod so the next attempt gets a
			// clean unit, then report the breach.
			s.restart()
			return Failure(apperr.KindResourceExceeded,
				fmt.Sprintf("execution timed out after %v", s.cfg.Timeout), ""), nil
		}
		s.restart()
		return Result{}, fmt.Errorf("sandbox pod unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read sandbox response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("sandbox pod returned status %d: %s", resp.StatusCode, body)
	}

	return DecodeResponse(body)
}

func (s *PodSandbox) ensureStarted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

// start creates the session pod and its service, then waits for readiness.
func (s *PodSandbox) start(ctx context.Context) error {
	if s.log != nil {
		s.log.Info("starting sandbox pod", "pod", s.podName, "namespace", s.cfg.Namespace)
	}

	pod := s.podSpec()
	if _, err := s.clientset.CoreV1().Pods(s.cfg.Namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("failed to create sandbox pod: %w", err)
	}

	svc := s.serviceSpec()
	if _, err := s.clientset.CoreV1().Services(s.cfg.Namespace).Create(ctx, svc, metav1.CreateOptions{}); err != nil {
		s.deletePod()
		return fmt.Errorf("failed to create sandbox service: %w", err)
	}

	if err := s.waitReady(ctx); err != nil {
		s.teardown()
		return err
	}
	return nil
}

func (s *PodSandbox) podSpec() *corev1.Pod {
	runAsNonRoot := true
	noEscalation := false
	readOnlyRoot := true
	runAsUser := nonRootUserID

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: s.podName,
			Labels: map[string]string{
				appLabel:     appLabelValue,
				sessionLabel: s.sessionID,
				egressLabel:  "deny",
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyAlways,
			SecurityContext: &corev1.PodSecurityContext{
				RunAsNonRoot: &runAsNonRoot,
				RunAsUser:    &runAsUser,
			},
			Containers: []corev1.Container{
				{
					Name:  "sandbox",
					Image: s.cfg.Image,
					Ports: []corev1.ContainerPort{{ContainerPort: sandboxPort}},
					Env: []corev1.EnvVar{
						{Name: "SESSION_ID", Value: s.sessionID},
					},
					Resources: corev1.ResourceRequirements{
						Limits: corev1.ResourceList{
							corev1.ResourceMemory: *resource.NewQuantity(s.cfg.MemoryLimit, resource.BinarySI),
							corev1.ResourceCPU:    *resource.NewMilliQuantity(int64(s.cfg.CPULimit)*1000, resource.DecimalSI),
						},
					},
					SecurityContext: &corev1.SecurityContext{
						AllowPrivilegeEscalation: &noEscalation,
						ReadOnlyRootFilesystem:   &readOnlyRoot,
						Capabilities:             &corev1.Capabilities{Drop: []corev1.Capability{"ALL"}},
					},
					ReadinessProbe: &corev1.Probe{
						ProbeHandler: corev1.ProbeHandler{
							HTTPGet: &corev1.HTTPGetAction{Path: "/readyz", Port: intstr.FromInt32(sandboxPort)},
						},
						InitialDelaySeconds: 1,
						PeriodSeconds:       2,
					},
					LivenessProbe: &corev1.Probe{
						ProbeHandler: corev1.ProbeHandler{
							HTTPGet: &corev1.HTTPGetAction{Path: "/healthz", Port: intstr.FromInt32(sandboxPort)},
						},
						InitialDelaySeconds: 5,
						PeriodSeconds:       10,
					},
					VolumeMounts: []corev1.VolumeMount{{Name: "tmp", MountPath: "/tmp"}},
				},
			},
			Volumes: []corev1.Volume{
				{Name: "tmp", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
			},
		},
	}
}

func (s *PodSandbox) serviceSpec() *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:   s.svcName,
			Labels: map[string]string{appLabel: appLabelValue, sessionLabel: s.sessionID},
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{sessionLabel: s.sessionID},
			Ports: []corev1.ServicePort{
				{Port: sandboxPort, TargetPort: intstr.FromInt32(sandboxPort)},
			},
		},
	}
}

func (s *PodSandbox) waitReady(ctx context.Context) error {
	err := wait.PollUntilContextTimeout(ctx, 2*time.Second, podReadyWait, true,
		func(ctx context.Context) (bool, error) {
			pod, err := s.clientset.CoreV1().Pods(s.cfg.Namespace).Get(ctx, s.podName, metav1.GetOptions{})
			if err != nil {
				return false, nil
			}
			for _, cond := range pod.Status.Conditions {
				if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
					return true, nil
				}
			}
			return false, nil
		})
	if err != nil {
		return fmt.Errorf("sandbox pod %s did not become ready: %w", s.podName, err)
	}
	return nil
}

// restart tears the pod down and forgets the started state; the next Execute
// provisions a fresh unit.
func (s *PodSandbox) restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log != nil {
		s.log.Warn("restarting sandbox pod after failure", "pod", s.podName)
	}
	s.teardown()
	s.started = false
}

func (s *PodSandbox) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := s.clientset.CoreV1().Services(s.cfg.Namespace).Delete(ctx, s.svcName, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		if s.log != nil {
			s.log.Warn("failed to delete sandbox service", "service", s.svcName, "error", err)
		}
	}
	s.deletePod()
}

func (s *PodSandbox) deletePod() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := s.clientset.CoreV1().Pods(s.cfg.Namespace).Delete(ctx, s.podName, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		if s.log != nil {
			s.log.Warn("failed to delete sandbox pod", "pod", s.podName, "error", err)
		}
	}
}

// Close deletes the session pod and service.
func (s *PodSandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.teardown()
		s.started = false
	}
	return nil
}
