// Package awsvm implements the verification machine executor on EC2 for the
// instance lifecycle and SSM for remote command execution.
package awsvm

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/ceremonyd/vm"
)

var log = logrus.WithField("prefix", "awsvm")

// Config holds the credentials of the backing AWS account.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Executor implements vm.Executor on the EC2 and SSM APIs.
type Executor struct {
	ec2svc *ec2.EC2
	ssmsvc *ssm.SSM
}

var _ vm.Executor = (*Executor)(nil)

// New connects an executor to the configured AWS account.
func New(cfg *Config) (*Executor, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "could not create AWS session")
	}
	return &Executor{ec2svc: ec2.New(sess), ssmsvc: ssm.New(sess)}, nil
}

// Start powers the instance on.
func (e *Executor) Start(ctx context.Context, instanceID string) error {
	_, err := e.ec2svc.StartInstancesWithContext(ctx, &ec2.StartInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil {
		return errors.Wrapf(err, "could not start instance %q", instanceID)
	}
	log.WithField("instance", instanceID).Info("Requested instance start")
	return nil
}

// Stop powers the instance off.
func (e *Executor) Stop(ctx context.Context, instanceID string) error {
	_, err := e.ec2svc.StopInstancesWithContext(ctx, &ec2.StopInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil {
		return errors.Wrapf(err, "could not stop instance %q", instanceID)
	}
	log.WithField("instance", instanceID).Info("Requested instance stop")
	return nil
}

// IsRunning reports whether the instance reached the running state.
func (e *Executor) IsRunning(ctx context.Context, instanceID string) (bool, error) {
	out, err := e.ec2svc.DescribeInstanceStatusWithContext(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds:         []*string{aws.String(instanceID)},
		IncludeAllInstances: aws.Bool(true),
	})
	if err != nil {
		return false, errors.Wrapf(err, "could not describe instance %q", instanceID)
	}
	for _, st := range out.InstanceStatuses {
		if aws.StringValue(st.InstanceState.Name) == ec2.InstanceStateNameRunning {
			return true, nil
		}
	}
	return false, nil
}

// RunCommand executes a shell script on the instance via SSM.
func (e *Executor) RunCommand(ctx context.Context, instanceID string, commands []string) (string, error) {
	out, err := e.ssmsvc.SendCommandWithContext(ctx, &ssm.SendCommandInput{
		DocumentName: aws.String("AWS-RunShellScript"),
		InstanceIds:  []*string{aws.String(instanceID)},
		Parameters: map[string][]*string{
			"commands": aws.StringSlice(commands),
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "could not send command to instance %q", instanceID)
	}
	return aws.StringValue(out.Command.CommandId), nil
}

// CommandStatus returns the current status of an issued command.
func (e *Executor) CommandStatus(ctx context.Context, instanceID, commandID string) (vm.CommandStatus, error) {
	out, err := e.ssmsvc.GetCommandInvocationWithContext(ctx, &ssm.GetCommandInvocationInput{
		CommandId:  aws.String(commandID),
		InstanceId: aws.String(instanceID),
	})
	if err != nil {
		return "", errors.Wrapf(err, "could not get invocation %q", commandID)
	}
	return vm.CommandStatus(aws.StringValue(out.Status)), nil
}

// CommandOutput returns the standard output of a finished command.
func (e *Executor) CommandOutput(ctx context.Context, instanceID, commandID string) (string, error) {
	out, err := e.ssmsvc.GetCommandInvocationWithContext(ctx, &ssm.GetCommandInvocationInput{
		CommandId:  aws.String(commandID),
		InstanceId: aws.String(instanceID),
	})
	if err != nil {
		return "", errors.Wrapf(err, "could not get invocation %q", commandID)
	}
	return aws.StringValue(out.StandardOutputContent), nil
}
